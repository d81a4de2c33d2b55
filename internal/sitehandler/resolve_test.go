package sitehandler

import (
	"testing"
	"testing/fstest"
)

func siteFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":          &fstest.MapFile{Data: []byte("<html>home</html>")},
		"404.html":            &fstest.MapFile{Data: []byte("<html>404</html>")},
		"css/style.css":       &fstest.MapFile{Data: []byte("body{}")},
		"js/app.js":           &fstest.MapFile{Data: []byte(";")},
		"uslugi/index.html":   &fstest.MapFile{Data: []byte("<html>services</html>")},
		"kontakty/index.html": &fstest.MapFile{Data: []byte("<html>contacts</html>")},
	}
}

func TestResolvePath(t *testing.T) {
	fsys := siteFS()

	tests := []struct {
		name       string
		urlPath    string
		wantFile   string
		wantTarget string
		wantOK     bool
	}{
		{"root", "/", "index.html", "", true},
		{"empty", "", "index.html", "", true},
		{"no leading slash", "css/style.css", "css/style.css", "", true},
		{"file with extension", "/css/style.css", "css/style.css", "", true},
		{"nested js", "/js/app.js", "js/app.js", "", true},
		{"directory with slash", "/uslugi/", "uslugi/index.html", "", true},
		{"pretty url redirects", "/uslugi", "", "/uslugi/", true},
		{"missing file", "/nope.css", "", "", false},
		{"missing directory", "/nope/", "", "", false},
		{"missing pretty url", "/nope", "", "", false},
		{"dot segments", "/../etc/passwd", "", "", false},
		{"encoded traversal", "/css/../../secret", "", "", false},
		{"backslash", "/css\\style.css", "", "", false},
		{"null byte", "/css/\x00style.css", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, redirectTo, ok := resolvePath(tt.urlPath, fsys)
			if file != tt.wantFile || redirectTo != tt.wantTarget || ok != tt.wantOK {
				t.Fatalf("resolvePath(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.urlPath, file, redirectTo, ok, tt.wantFile, tt.wantTarget, tt.wantOK)
			}
		})
	}
}

func TestResolvePath_NoIndexInRoot(t *testing.T) {
	fsys := fstest.MapFS{
		"about.html": &fstest.MapFile{Data: []byte("x")},
	}
	if _, _, ok := resolvePath("/", fsys); ok {
		t.Fatal("root without index.html should not resolve")
	}
}

func TestExistsFile(t *testing.T) {
	fsys := siteFS()

	if !existsFile(fsys, "index.html") {
		t.Fatal("index.html should exist")
	}
	if existsFile(fsys, "css") {
		t.Fatal("directories should not count as files")
	}
	if existsFile(fsys, "") {
		t.Fatal("empty name should not exist")
	}
	if existsFile(fsys, "../escape") {
		t.Fatal("invalid path should not exist")
	}
}
