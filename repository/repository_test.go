package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"VKSaver/config"
	"VKSaver/db"
	"VKSaver/model"
)

func openSQLite(t *testing.T) (TaskRepository, ProxyRepository) {
	t.Helper()
	gdb, err := db.ConnectGormDB(&config.Config{DBDriver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrateModels(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.CloseGormDB(gdb) })
	return NewGormTaskRepository(gdb), NewGormProxyRepository(gdb)
}

type repoSet struct {
	name    string
	tasks   TaskRepository
	proxies ProxyRepository
}

func allRepos(t *testing.T) []repoSet {
	tasks, proxies := openSQLite(t)
	return []repoSet{
		{name: "memory", tasks: NewMemoryTaskRepository(), proxies: NewMemoryProxyRepository()},
		{name: "gorm-sqlite", tasks: tasks, proxies: proxies},
	}
}

func TestTaskRepository(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, rs := range allRepos(t) {
		t.Run(rs.name, func(t *testing.T) {
			repo := rs.tasks
			statuses := []model.TaskStatus{
				model.TaskStatusCompleted,
				model.TaskStatusDownloading,
				model.TaskStatusPending,
				model.TaskStatusError,
			}
			for i, st := range statuses {
				task := &model.DownloadTask{
					ID:        fmt.Sprintf("task-%d", i),
					SessionID: "s1",
					Kind:      model.TaskKindPlaylist,
					Status:    st,
					CreatedAt: base.Add(time.Duration(i) * time.Minute),
				}
				if err := repo.Create(ctx, task); err != nil {
					t.Fatalf("Create: %v", err)
				}
			}
			other := &model.DownloadTask{ID: "other", SessionID: "s2", Kind: model.TaskKindTrack, Status: model.TaskStatusPending, CreatedAt: base}
			if err := repo.Create(ctx, other); err != nil {
				t.Fatalf("Create: %v", err)
			}

			history, err := repo.ListBySession(ctx, "s1", HistoryLimit)
			if err != nil {
				t.Fatalf("ListBySession: %v", err)
			}
			if len(history) != 4 || history[0].ID != "task-3" || history[3].ID != "task-0" {
				t.Fatalf("history not sorted desc: %v", ids(history))
			}

			active, err := repo.ListActive(ctx, "s1", ActiveLimit)
			if err != nil {
				t.Fatalf("ListActive: %v", err)
			}
			if len(active) != 2 || active[0].ID != "task-2" || active[1].ID != "task-1" {
				t.Fatalf("active = %v, want [task-2 task-1]", ids(active))
			}

			done := time.Now().UTC().Truncate(time.Second)
			err = repo.Update(ctx, "task-1", map[string]interface{}{
				model.ColStatus:       model.TaskStatusCompleted,
				model.ColProgress:     100.0,
				model.ColDownloadURLs: model.StringList{"https://a", "https://b"},
				model.ColDownloadURL:  "https://a",
				model.ColCompletedAt:  done,
			})
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			got, err := repo.GetByID(ctx, "task-1")
			if err != nil || got == nil {
				t.Fatalf("GetByID: %v %v", got, err)
			}
			if got.Status != model.TaskStatusCompleted || got.Progress != 100 {
				t.Errorf("status/progress = %s/%v", got.Status, got.Progress)
			}
			if len(got.DownloadURLs) != 2 || got.DownloadURLs[1] != "https://b" {
				t.Errorf("DownloadURLs = %v", got.DownloadURLs)
			}
			if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
				t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, done)
			}

			if err := repo.Delete(ctx, "task-1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			missing, err := repo.GetByID(ctx, "task-1")
			if err != nil || missing != nil {
				t.Fatalf("deleted task still found: %v %v", missing, err)
			}
		})
	}
}

func TestProxyRepository(t *testing.T) {
	ctx := context.Background()
	for _, rs := range allRepos(t) {
		t.Run(rs.name, func(t *testing.T) {
			repo := rs.proxies
			for i, typ := range []model.ProxyType{model.ProxyTypeHTTP, model.ProxyTypeVLESS} {
				p := &model.Proxy{
					ID:        fmt.Sprintf("p%d", i),
					Type:      typ,
					Address:   "127.0.0.1:3128",
					Status:    model.ProxyStatusUnchecked,
					CreatedAt: time.Date(2025, 1, 1, 0, i, 0, 0, time.UTC),
				}
				if err := repo.Create(ctx, p); err != nil {
					t.Fatalf("Create: %v", err)
				}
			}

			if err := repo.Update(ctx, "p0", map[string]interface{}{"enabled": true, "latency_ms": int64(42)}); err != nil {
				t.Fatalf("Update: %v", err)
			}
			enabled, err := repo.GetEnabled(ctx)
			if err != nil || enabled == nil || enabled.ID != "p0" || enabled.LatencyMs != 42 {
				t.Fatalf("GetEnabled = %+v, %v", enabled, err)
			}

			if err := repo.DisableAll(ctx); err != nil {
				t.Fatalf("DisableAll: %v", err)
			}
			enabled, err = repo.GetEnabled(ctx)
			if err != nil || enabled != nil {
				t.Fatalf("expected no enabled proxy, got %+v %v", enabled, err)
			}

			list, err := repo.List(ctx)
			if err != nil || len(list) != 2 || list[0].ID != "p0" {
				t.Fatalf("List = %v %v", list, err)
			}

			if err := repo.Delete(ctx, "p1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if p, _ := repo.GetByID(ctx, "p1"); p != nil {
				t.Fatal("p1 should be gone")
			}
		})
	}
}

func ids(tasks []*model.DownloadTask) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestTaskUpdateActive(t *testing.T) {
	ctx := context.Background()
	cancelling := map[string]interface{}{
		model.ColStatus:      model.TaskStatusCancelling,
		model.ColCurrentStep: "Cancelling...",
	}

	for _, rs := range allRepos(t) {
		t.Run(rs.name, func(t *testing.T) {
			repo := rs.tasks
			for id, st := range map[string]model.TaskStatus{"running": model.TaskStatusDownloading, "done": model.TaskStatusCompleted} {
				if err := repo.Create(ctx, &model.DownloadTask{ID: id, SessionID: "s1", Kind: model.TaskKindPlaylist, Status: st}); err != nil {
					t.Fatalf("Create: %v", err)
				}
			}

			applied, err := repo.UpdateActive(ctx, "running", cancelling)
			if err != nil || !applied {
				t.Fatalf("active task: applied=%v err=%v", applied, err)
			}
			// same values again still counts as applied
			applied, err = repo.UpdateActive(ctx, "running", cancelling)
			if err != nil || !applied {
				t.Fatalf("repeat: applied=%v err=%v", applied, err)
			}

			applied, err = repo.UpdateActive(ctx, "done", cancelling)
			if err != nil || applied {
				t.Fatalf("terminal task: applied=%v err=%v", applied, err)
			}
			got, _ := repo.GetByID(ctx, "done")
			if got.Status != model.TaskStatusCompleted {
				t.Errorf("terminal status overwritten with %s", got.Status)
			}

			if applied, err := repo.UpdateActive(ctx, "missing", cancelling); err != nil || applied {
				t.Errorf("missing task: applied=%v err=%v", applied, err)
			}
		})
	}
}
