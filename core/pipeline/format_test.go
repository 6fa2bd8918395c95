package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"VKSaver/model"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.0 B"},
		{1023, "1023.0 B"},
		{1024, "1.0 KB"},
		{30 * 1024 * 1024, "30.0 MB"},
		{3 * 1024 * 1024 * 1024 / 2, "1.5 GB"},
		{5 * 1024 * 1024 * 1024 * 1024, "5.0 TB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.in); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSafeTrackName(t *testing.T) {
	tests := []struct {
		name  string
		index int
		track model.Track
		want  string
	}{
		{"plain", 0, model.Track{Artist: "Kino", Title: "Gruppa krovi"}, "001. Kino - Gruppa krovi.mp3"},
		{"unsafe", 11, model.Track{Artist: "AC/DC", Title: `What?*"<>|:\`}, "012. AC_DC - What________.mp3"},
		{"unknown", 99, model.Track{}, "100. Unknown - Unknown.mp3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTrackName(tt.index, tt.track); got != tt.want {
				t.Errorf("SafeTrackName = %q, want %q", got, tt.want)
			}
		})
	}

	long := SafeTrackName(0, model.Track{Artist: strings.Repeat("a", 300), Title: "x"})
	if n := len([]rune(strings.TrimSuffix(long, ".mp3"))); n != maxTrackName {
		t.Errorf("long name has %d runes before extension, want %d", n, maxTrackName)
	}
}

func TestArchiveName(t *testing.T) {
	id := "1234abcd-0000-0000-0000-000000000000"
	if got := ArchiveName("Road: Trip", id, 1, false); got != "Road_ Trip_1234abcd.zip" {
		t.Errorf("single = %q", got)
	}
	if got := ArchiveName("Mix", id, 2, true); got != "Mix_1234abcd_part2.zip" {
		t.Errorf("numbered = %q", got)
	}
	long := ArchiveName(strings.Repeat("a", 400), "short", 1, false)
	if long != strings.Repeat("a", maxArchiveBase)+"_short.zip" {
		t.Errorf("long = %q", long)
	}
}

func TestNamesFitFilesystemLimitWithCyrillic(t *testing.T) {
	dir := t.TempDir()
	track := model.Track{
		Artist: strings.Repeat("Кино ", 20),
		Title:  strings.Repeat("Группа крови ", 10),
	}
	names := []string{
		SafeTrackName(0, track),
		ArchiveName(strings.Repeat("Мой плейлист ", 20), "1234abcd-0000", 12, true),
	}
	for _, name := range names {
		if len(name) > 255 {
			t.Errorf("%q is %d bytes, want at most 255", name, len(name))
		}
		if !utf8.ValidString(name) {
			t.Errorf("%q is not valid UTF-8", name)
		}
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("create %q: %v", name, err)
		}
		f.Close()
	}
	if !strings.HasSuffix(names[0], ".mp3") || !strings.HasSuffix(names[1], "_1234abcd_part12.zip") {
		t.Errorf("suffixes lost: %q, %q", names[0], names[1])
	}
}

func TestTruncateBytes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abc", 5, "abc"},
		{"abcdef", 3, "abc"},
		{"яяя", 5, "яя"},
		{"яяя", 4, "яя"},
		{"я", 1, ""},
	}
	for _, tt := range tests {
		if got := truncateBytes(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateBytes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
