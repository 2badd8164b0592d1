package storage

import "testing"

func TestEvidenceObjectPath(t *testing.T) {
	cases := map[string]string{
		"receipt.pdf":          "bank-transfers/user-1/01HX/receipt.pdf",
		"My Transfer (1).PNG":  "bank-transfers/user-1/01HX/My-Transfer-1.png",
		"C:\\scans\\bank.jpeg": "bank-transfers/user-1/01HX/bank.jpeg",
		"إيصال التحويل.pdf":    "bank-transfers/user-1/01HX/receipt.pdf",
		"statement":            "bank-transfers/user-1/01HX/statement",
	}
	for name, want := range cases {
		got, err := EvidenceObjectPath("user-1", "01HX", name)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", name, err)
		}
		if got != want {
			t.Fatalf("%q: expected %s, got %s", name, want, got)
		}
	}
}

func TestEvidenceObjectPathRejectsInvalidInput(t *testing.T) {
	cases := []struct{ uid, upload, file string }{
		{"../bad", "u", "file.png"},
		{"..", "u", "file.png"},
		{"user", "a/b", "file.png"},
		{"user", "u", ""},
		{"user", "u", "..."},
		{"", "u", "file.png"},
	}
	for _, tc := range cases {
		if _, err := EvidenceObjectPath(tc.uid, tc.upload, tc.file); err == nil {
			t.Fatalf("expected error for %+v", tc)
		}
	}
}
