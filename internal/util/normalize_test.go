package util

import "testing"

func TestNormalizeSender_Basic(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`Name <User@Example.COM>`, "user@example.com"},
		{`"Name" <user+news@Example.com>`, "user@example.com"},
		{`user+tag@EXAMPLE.com`, "user@example.com"},
		{`user.name+tag@EXAMPLE.com`, "user.name@example.com"}, // dots preserved
		{`bad address`, ""},
		{`"A" <not-an-email> , "B" <c@D.com>`, "c@d.com"}, // list fallback picks first valid
		{``, ""},
	}
	for _, tc := range tests {
		if got := NormalizeSender(tc.in); got != tc.want {
			t.Errorf("NormalizeSender(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestReplyAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`Jane Doe <jane@example.com>`, "jane@example.com"},
		{`"Doe, Jane" <jane@example.com>`, "jane@example.com"},
		{`jane@example.com`, "jane@example.com"},
		{`  jane@example.com `, "jane@example.com"},
		{`Broken <jane@example.com`, "jane@example.com"},
		{``, ""},
	}
	for _, tc := range tests {
		if got := ReplyAddress(tc.in); got != tc.want {
			t.Errorf("ReplyAddress(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestFromAccount(t *testing.T) {
	if !FromAccount("Me <Me@Example.com>", "me@example.com") {
		t.Fatal("expected display-name form to match account")
	}
	if FromAccount("Other <other@example.com>", "me@example.com") {
		t.Fatal("unexpected match for different sender")
	}
	if FromAccount("anyone@example.com", "") {
		t.Fatal("empty account must never match")
	}
}

func TestNormalizeIndexID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"support-docs", "support_docs"},
		{"support docs.v2", "support_docs_v2"},
		{"2024-index", "idx_2024_index"},
		{"_hidden", "idx__hidden"},
		{"ok_id9", "ok_id9"},
		{"", "idx_"},
	}
	for _, tc := range tests {
		if got := NormalizeIndexID(tc.in); got != tc.want {
			t.Errorf("NormalizeIndexID(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 2); got != "hé" {
		t.Fatalf("Truncate runes: got %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Fatalf("Truncate short: got %q", got)
	}
	if got := Truncate("abc", 0); got != "" {
		t.Fatalf("Truncate zero: got %q", got)
	}
}

func TestEnvKey(t *testing.T) {
	if got := EnvKey("first.last@example.com"); got != "first_last_example_com" {
		t.Fatalf("EnvKey: got %q", got)
	}
}
