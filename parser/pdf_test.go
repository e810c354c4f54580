package parser

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tsawler/tabula/reader"
)

// writePDF lays out objects 1..n with a matching xref table. Object 1 must
// be the catalog.
func writePDF(t *testing.T, objects ...[]byte) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", i+1)
		buf.Write(obj)
		buf.WriteString("\nendobj\n")
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	path := filepath.Join(t.TempDir(), "images.pdf")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func pdfStream(dict string, data []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<< %s /Length %d >>\nstream\n", dict, len(data))
	b.Write(data)
	b.WriteString("\nendstream")
	return b.Bytes()
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 0xc0
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func flate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPDFImagesGetPlaceholders(t *testing.T) {
	jpg := testJPEG(t)
	rgb := []byte{255, 0, 0, 0, 255, 0, 0, 0, 255, 255, 255, 255} // 2x2

	content := []byte("BT /F1 12 Tf 72 720 Td (Hello world text.) Tj ET\n" +
		"q 40 0 0 40 72 600 cm /Im1 Do Q\nq 20 0 0 20 72 500 cm /Im2 Do Q")
	path := writePDF(t,
		[]byte("<< /Type /Catalog /Pages 2 0 R >>"),
		[]byte("<< /Type /Pages /Kids [3 0 R] /Count 1 >>"),
		[]byte("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R "+
			"/Resources << /Font << /F1 5 0 R >> /XObject << /Im1 6 0 R /Im2 7 0 R >> >> >>"),
		pdfStream("", content),
		[]byte("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"),
		pdfStream("/Type /XObject /Subtype /Image /Width 4 /Height 4 /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode", jpg),
		pdfStream("/Type /XObject /Subtype /Image /Width 2 /Height 2 /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /FlateDecode", flate(t, rgb)),
	)

	root := t.TempDir()
	e := NewExtractor(ExtractorConfig{
		ImageDir: filepath.Join(root, "images"),
		MapDir:   filepath.Join(root, "maps"),
	})
	res, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if !strings.Contains(res.Text, "Hello world") {
		t.Errorf("page text missing: %q", res.Text)
	}
	if !strings.HasSuffix(res.Text, "\n\n[IMAGE_1]\n\n[IMAGE_2]") {
		t.Errorf("Text = %q, want both image placeholders", res.Text)
	}
	if res.Images.Len() != 2 {
		t.Fatalf("images = %d, want 2", res.Images.Len())
	}

	dir := filepath.Join(root, "images", "imagesimage")
	stored, err := os.ReadFile(filepath.Join(dir, "image_1_1.jpg"))
	if err != nil {
		t.Fatalf("JPEG not stored: %v", err)
	}
	if !bytes.Equal(stored, jpg) {
		t.Error("JPEG bytes were altered")
	}
	if ref, _ := res.Images.Get("[IMAGE_1]"); ref != filepath.Join(dir, "image_1_1.jpg") {
		t.Errorf("[IMAGE_1] -> %q", ref)
	}

	f, err := os.Open(filepath.Join(dir, "image_1_2.png"))
	if err != nil {
		t.Fatalf("PNG not stored: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decoding PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 2 {
		t.Errorf("PNG size = %v", b)
	}
	if r, g, b, _ := img.At(0, 0).RGBA(); r>>8 != 255 || g != 0 || b != 0 {
		t.Errorf("pixel (0,0) = %v", color.NRGBAModel.Convert(img.At(0, 0)))
	}
}

func TestPDFWithoutImages(t *testing.T) {
	path := writePDF(t,
		[]byte("<< /Type /Catalog /Pages 2 0 R >>"),
		[]byte("<< /Type /Pages /Kids [3 0 R] /Count 1 >>"),
		[]byte("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R "+
			"/Resources << /Font << /F1 5 0 R >> >> >>"),
		pdfStream("", []byte("BT /F1 12 Tf 72 720 Td (Only text here.) Tj ET")),
		[]byte("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"),
	)
	res, err := (&PDFParser{}).Parse(context.Background(), path, NewImageSink(t.TempDir(), nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.Pages != 1 || strings.Contains(res.Text, "[IMAGE_") {
		t.Errorf("Pages = %d, Text = %q", res.Pages, res.Text)
	}
}

func TestImageFile(t *testing.T) {
	tests := []struct {
		name    string
		img     reader.PageImage
		wantExt string
	}{
		{"dct", reader.PageImage{Filter: "DCTDecode", Data: []byte{1, 2}}, ".jpg"},
		{"jpeg behind flate", reader.PageImage{Filter: "FlateDecode", Data: []byte{0xff, 0xd8, 0xff, 0xe0}}, ".jpg"},
		{"jpx", reader.PageImage{Filter: "JPXDecode", Data: []byte{1}}, ".jp2"},
		{"cmyk", reader.PageImage{Width: 1, Height: 1, ColorSpace: "DeviceCMYK", BitsPerComponent: 8, Data: []byte{0, 0, 0, 0}}, ".png"},
		{"bilevel", reader.PageImage{Width: 8, Height: 1, ColorSpace: "DeviceGray", BitsPerComponent: 1, Data: []byte{0xaa}}, ".png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, data, err := imageFile(&tt.img)
			if err != nil {
				t.Fatalf("imageFile: %v", err)
			}
			if ext != tt.wantExt {
				t.Errorf("ext = %q, want %q", ext, tt.wantExt)
			}
			if len(data) == 0 {
				t.Error("no image data")
			}
		})
	}

	if _, _, err := imageFile(&reader.PageImage{ColorSpace: "DeviceRGB"}); err == nil {
		t.Error("zero-size image should fail")
	}
}
