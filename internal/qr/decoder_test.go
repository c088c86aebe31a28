package qr

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

func TestDecodeFindsPayload(t *testing.T) {
	matrix, err := qrcode.NewQRCodeWriter().Encode("https://tickets.example.com/e/42", gozxing.BarcodeFormat_QR_CODE, 300, 300, nil)
	if err != nil {
		t.Fatalf("encode qr: %v", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, matrix); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	res := Decode(buf.Bytes())
	if !res.Detected {
		t.Fatalf("expected qr to be detected")
	}
	if res.Payload != "https://tickets.example.com/e/42" {
		t.Fatalf("unexpected payload %q", res.Payload)
	}
}

func TestDecodeGarbageIsNotDetected(t *testing.T) {
	for _, in := range [][]byte{nil, []byte("not an image"), {0x89, 'P', 'N', 'G'}} {
		if res := Decode(in); res.Detected || res.Payload != "" {
			t.Fatalf("expected no detection for %q, got %+v", in, res)
		}
	}
}

func TestMerge(t *testing.T) {
	cases := []struct {
		name        string
		local       Result
		hint        bool
		hintPayload string
		want        Result
	}{
		{"neither", Result{}, false, "", Result{}},
		{"hint only", Result{}, true, " https://x ", Result{Detected: true, Payload: "https://x"}},
		{"local only", Result{Detected: true, Payload: "a"}, false, "", Result{Detected: true, Payload: "a"}},
		{"local wins payload", Result{Detected: true, Payload: "a"}, true, "b", Result{Detected: true, Payload: "a"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Merge(tc.local, tc.hint, tc.hintPayload); got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}
