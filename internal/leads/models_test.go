package leads

import "testing"

func TestAdvanceStatus_Monotonic(t *testing.T) {
	cases := []struct {
		current, target, want string
	}{
		{StatusNew, StatusInterested, StatusInterested},
		{StatusNew, StatusMaybe, StatusMaybe},
		{StatusMaybe, StatusInterested, StatusInterested},
		{StatusInterested, StatusMaybe, StatusInterested},
		{StatusConverted, StatusInterested, StatusConverted},
		{"custom_pipeline_stage", StatusInterested, "custom_pipeline_stage"},
		{StatusNew, "bogus", StatusNew},
	}
	for _, tc := range cases {
		if got := AdvanceStatus(tc.current, tc.target); got != tc.want {
			t.Fatalf("AdvanceStatus(%q, %q) = %q, want %q", tc.current, tc.target, got, tc.want)
		}
	}
}
