package logger

import "testing"

func TestMaskAuthorization(t *testing.T) {
	got := MaskAuthorization("Bearer abcdef1234")
	want := "Bearer ****1234"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestMaskSignature(t *testing.T) {
	got := MaskSignature("9f2c4a1db00)ws8e7")
	if got != "****s8e7" {
		t.Fatalf("expected masked signature, got %q", got)
	}
}

func TestMaskJSON(t *testing.T) {
	input := map[string]any{
		"password": "hunter2",
		"token":    "abc12345",
		"shipping": map[string]any{
			"phone": "9876543210",
			"city":  "Mumbai",
		},
	}
	masked := MaskJSON(input)
	if masked["password"] != "****ter2" {
		t.Fatalf("expected masked password, got %v", masked["password"])
	}
	if masked["token"] != "****2345" {
		t.Fatalf("expected masked token, got %v", masked["token"])
	}
	shipping, ok := masked["shipping"].(map[string]any)
	if !ok {
		t.Fatalf("expected shipping map")
	}
	if shipping["phone"] != "****3210" {
		t.Fatalf("expected masked phone, got %v", shipping["phone"])
	}
	if shipping["city"] != "Mumbai" {
		t.Fatalf("expected city untouched, got %v", shipping["city"])
	}
}
