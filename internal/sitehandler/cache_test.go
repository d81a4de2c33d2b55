package sitehandler

import "testing"

func TestCacheControlForFile(t *testing.T) {
	o := &Options{}
	o.setDefaults()

	tests := []struct {
		file string
		want string
	}{
		{"index.html", o.HTMLCacheControl},
		{"uslugi/index.html", o.HTMLCacheControl},
		{"css/style.css", o.AssetCacheControl},
		{"js/app.js", o.AssetCacheControl},
		{"img/logo.SVG", o.AssetCacheControl},
		{"fonts/main.woff2", o.AssetCacheControl},
		{"favicon.ico", o.AssetCacheControl},
		{"extensionless", o.HTMLCacheControl},
		{"sitemap.xml", o.OtherCacheControl},
		{"robots.txt", o.OtherCacheControl},
	}

	for _, tt := range tests {
		if got := cacheControlForFile(tt.file, o); got != tt.want {
			t.Errorf("cacheControlForFile(%q) = %q, want %q", tt.file, got, tt.want)
		}
	}
}

func TestCacheControlForFile_CustomPolicies(t *testing.T) {
	o := &Options{
		HTMLCacheControl:  "no-store",
		AssetCacheControl: "max-age=60",
	}
	o.setDefaults()

	if got := cacheControlForFile("index.html", o); got != "no-store" {
		t.Fatalf("html policy = %q", got)
	}
	if got := cacheControlForFile("app.js", o); got != "max-age=60" {
		t.Fatalf("asset policy = %q", got)
	}
}
