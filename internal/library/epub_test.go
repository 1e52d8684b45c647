package library

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/metcalfc/pagebook/internal/book"
)

const testContainerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const testOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Fixed Layout Comic</dc:title>
  </metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="p1" href="text/p1.xhtml" media-type="application/xhtml+xml"/>
    <item id="p2" href="text/p2.xhtml" media-type="application/xhtml+xml"/>
    <item id="p3" href="text/p3.xhtml" media-type="application/xhtml+xml"/>
    <item id="p4" href="text/p4.xhtml" media-type="application/xhtml+xml"/>
    <item id="p5" href="text/p5.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="p1"/>
    <itemref idref="p2"/>
    <itemref idref="p3"/>
    <itemref idref="p4"/>
    <itemref idref="p5"/>
  </spine>
</package>`

const testNCX = `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="cover" playOrder="1">
      <navLabel><text>Cover</text></navLabel>
      <content src="text/p1.xhtml"/>
    </navPoint>
    <navPoint id="ch1" playOrder="2">
      <navLabel><text> Chapter 1 </text></navLabel>
      <content src="text/p2.xhtml"/>
      <navPoint id="ch1a" playOrder="3">
        <navLabel><text>Part A</text></navLabel>
        <content src="text/p2.xhtml#a"/>
      </navPoint>
      <navPoint id="ch1b" playOrder="4">
        <navLabel><text>Part B</text></navLabel>
        <content src="text/p3.xhtml"/>
      </navPoint>
    </navPoint>
    <navPoint id="ch2" playOrder="5">
      <navLabel><text>Chapter 2</text></navLabel>
      <content src="text/p4.xhtml"/>
    </navPoint>
  </navMap>
</ncx>`

func pageXHTML(n int) string {
	if n == 5 {
		return `<html xmlns="http://www.w3.org/1999/xhtml"><body>
<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink">
<image width="100" height="100" xlink:href="../images/p5.jpg"/></svg></body></html>`
	}
	return fmt.Sprintf(`<html xmlns="http://www.w3.org/1999/xhtml"><body><div><img src="../images/p%d.jpg" alt=""/></div></body></html>`, n)
}

func buildEPUB(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	add := func(name, body string) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	add("mimetype", "application/epub+zip")
	add("META-INF/container.xml", testContainerXML)
	add("OEBPS/content.opf", testOPF)
	add("OEBPS/toc.ncx", testNCX)
	for i := 1; i <= 5; i++ {
		add(fmt.Sprintf("OEBPS/text/p%d.xhtml", i), pageXHTML(i))
		add(fmt.Sprintf("OEBPS/images/p%d.jpg", i), fmt.Sprintf("jpeg%d", i))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestEPUBLoad(t *testing.T) {
	src := newMemSource(nil)
	src.files["books/comic/book.epub"] = buildEPUB(t)
	lib := New(src, t.TempDir(), zerolog.Nop())

	meta, err := lib.Load(context.Background(), "comic")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if lib.Format("comic") != "epub" {
		t.Errorf("format = %q", lib.Format("comic"))
	}
	if meta.Title != "Fixed Layout Comic" {
		t.Errorf("title = %q", meta.Title)
	}
	if got := strings.Join(meta.PageLabels, ","); got != "1,2,3,4,5" {
		t.Errorf("labels = %s", got)
	}
	if p := meta.Page("2").ImagePath; p != "OEBPS/images/p2.jpg" {
		t.Errorf("page 2 image = %q", p)
	}
	if p := meta.Page("5").ImagePath; p != "OEBPS/images/p5.jpg" {
		t.Errorf("svg page image = %q", p)
	}

	type span struct{ title, start, end string }
	var got []span
	meta.Walk(func(n *book.TocNode, _ int) bool {
		got = append(got, span{n.Title, n.StartPage, n.EndPage})
		return true
	})
	want := []span{
		{"Cover", "1", "1"},
		{"Chapter 1", "2", "3"},
		{"Part A", "2", "2"},
		{"Part B", "3", "3"},
		{"Chapter 2", "4", "5"},
	}
	if len(got) != len(want) {
		t.Fatalf("toc = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("toc[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if err := meta.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEPUBResolvePage(t *testing.T) {
	src := newMemSource(nil)
	src.files["books/comic/book.epub"] = buildEPUB(t)
	cache := t.TempDir()
	lib := New(src, cache, zerolog.Nop())

	p, err := lib.ResolvePageImage(context.Background(), "comic", "3")
	if err != nil {
		t.Fatalf("ResolvePageImage failed: %v", err)
	}
	if data, _ := os.ReadFile(p); string(data) != "jpeg3" {
		t.Errorf("extracted %q", data)
	}
	if !strings.HasPrefix(p, cache) {
		t.Errorf("%s should be extracted into the cache", p)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comic.epub")
	if err := os.WriteFile(path, buildEPUB(t), 0644); err != nil {
		t.Fatal(err)
	}

	lib, id, err := OpenFile(path, t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if len(id) != 32 {
		t.Errorf("id = %q", id)
	}
	ids, _ := lib.ListBooks(context.Background())
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("ListBooks = %v", ids)
	}
	meta, err := lib.Load(context.Background(), id)
	if err != nil || len(meta.PageLabels) != 5 {
		t.Errorf("Load = %v, %v", meta, err)
	}
}
