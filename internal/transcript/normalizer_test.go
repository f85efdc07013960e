package transcript

import "testing"

func TestNormalizeFilters(t *testing.T) {
	n := NewNormalizer()

	cases := []struct {
		name string
		in   string
		want Result
	}{
		{"plain text", "Where is my order?", Result{Text: "Where is my order?"}},
		{"empty", "", Result{Filtered: true}},
		{"whitespace only", "  \t\n ", Result{Filtered: true}},
		{"command payload", `{"type":"command","payload":{"action":"render_card"}}`, Result{Filtered: true}},
		{"template payload", `{"type":"template","template":"quick_replies"}`, Result{Filtered: true}},
		{"plain json is kept", `{"orderId": 12345}`, Result{Text: `{"orderId": 12345}`}},
		{"hex payload", "deadbeefdeadbeef00", Result{Filtered: true}},
		{"short hex is kept", "beef", Result{Text: "beef"}},
		{"markup stripped", "<speak>Your claim is <b>approved</b></speak>", Result{Text: "Your claim is approved"}},
		{"entities decoded", "Tom &amp; Jerry &lt;3", Result{Text: "Tom & Jerry <3"}},
		{"whitespace collapsed", "hello    there\n\tfriend", Result{Text: "hello there friend"}},
		{"markup only", "<break time='500ms'/>", Result{Filtered: true}},
		{"filler phrase", "Please wait...", Result{Filtered: true}},
		{"filler phrase cased", "TRANSFERRING YOU TO AN AGENT", Result{Filtered: true}},
		{"filler prefix is kept", "Please wait for the doctor to call you", Result{Text: "Please wait for the doctor to call you"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := n.Normalize(tc.in, "user")
			if got.Filtered != tc.want.Filtered {
				t.Fatalf("Filtered = %v, want %v (text %q)", got.Filtered, tc.want.Filtered, got.Text)
			}
			if !got.Filtered && got.Text != tc.want.Text {
				t.Fatalf("Text = %q, want %q", got.Text, tc.want.Text)
			}
		})
	}
}
