package history

import "testing"

func turns(roles ...Role) []ModelTurn {
	out := make([]ModelTurn, 0, len(roles))
	for _, r := range roles {
		out = append(out, TextTurn(r, "x"))
	}
	return out
}

func TestAlignCut(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name             string
		log              []ModelTurn
		retainedUsers    int
		includeTrailing  bool
		want             int
	}{
		{
			name:          "no retained user turns cuts to empty",
			log:           turns(RoleUser, RoleModel),
			retainedUsers: 0,
			want:          0,
		},
		{
			name:            "absorbs model turns after anchor user turn",
			log:             turns(RoleUser, RoleModel, RoleUser, RoleModel),
			retainedUsers:   1,
			includeTrailing: true,
			want:            2,
		},
		{
			name:            "absorbs multiple consecutive model turns",
			log:             turns(RoleUser, RoleModel, RoleModel, RoleUser, RoleModel),
			retainedUsers:   1,
			includeTrailing: true,
			want:            3,
		},
		{
			name:          "cuts immediately after anchor user turn",
			log:           turns(RoleUser, RoleModel, RoleUser, RoleModel),
			retainedUsers: 1,
			want:          1,
		},
		{
			name:            "second user ordinal",
			log:             turns(RoleUser, RoleModel, RoleUser, RoleModel),
			retainedUsers:   2,
			includeTrailing: true,
			want:            4,
		},
		{
			name:            "anchor at log end",
			log:             turns(RoleUser, RoleModel, RoleUser),
			retainedUsers:   2,
			includeTrailing: true,
			want:            3,
		},
		{
			name:            "log exhausted before ordinal keeps entire log",
			log:             turns(RoleUser, RoleModel),
			retainedUsers:   3,
			includeTrailing: true,
			want:            2,
		},
		{
			name:          "empty log",
			log:           nil,
			retainedUsers: 2,
			want:          0,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := AlignCut(tc.log, tc.retainedUsers, tc.includeTrailing)
			if got != tc.want {
				t.Fatalf("AlignCut()=%d want=%d", got, tc.want)
			}
		})
	}
}

func TestCountUserEntries(t *testing.T) {
	t.Parallel()

	msgs := []DisplayMessage{
		{Role: RoleUser, Content: "a"},
		{Role: RoleModel, Content: "b"},
		{Role: RoleUser, Content: "c"},
	}
	if got := CountUserEntries(msgs); got != 2 {
		t.Fatalf("CountUserEntries()=%d want=2", got)
	}
	if got := CountUserEntries(nil); got != 0 {
		t.Fatalf("CountUserEntries(nil)=%d want=0", got)
	}
}
