package crypto

import "testing"

func TestMask(t *testing.T) {
	cases := map[string]string{
		"":                    MaskSequence,
		"short":               MaskSequence,
		"exactly12chr":        MaskSequence,
		"thirteen-chrs":       "thirteen" + MaskSequence + "chrs",
		"gus_live_abcdef1234": "gus_live" + MaskSequence + "1234",
		"ééééééééxxxxxyyyy":   "éééééééé" + MaskSequence + "yyyy",
	}
	for in, want := range cases {
		if got := Mask(in); got != want {
			t.Fatalf("Mask(%q)=%q, want %q", in, got, want)
		}
	}
}
