package crm

import "testing"

func TestBind(t *testing.T) {
	cases := []struct {
		name string
		tmpl string
		args []Literal
		want string
	}{
		{
			name: "plain string",
			tmpl: "SELECT Id FROM User WHERE Name = ? LIMIT ?",
			args: []Literal{String("Alice Smith"), Int(1)},
			want: "SELECT Id FROM User WHERE Name = 'Alice Smith' LIMIT 1",
		},
		{
			name: "quote and backslash escaped",
			tmpl: "Name = ?",
			args: []Literal{String(`O'Brien \ Co`)},
			want: `Name = 'O\'Brien \\ Co'`,
		},
		{
			name: "like pattern escapes wildcards",
			tmpl: "Phone LIKE ?",
			args: []Literal{Contains("55_1%2")},
			want: `Phone LIKE '%55\_1\%2%'`,
		},
		{
			name: "injection attempt stays inside literal",
			tmpl: "Name = ?",
			args: []Literal{String("x' OR Name != '")},
			want: `Name = 'x\' OR Name != \''`,
		},
		{
			name: "question mark inside argument is not a placeholder",
			tmpl: "Name = ? AND Title = ?",
			args: []Literal{String("who?"), String("rep")},
			want: "Name = 'who?' AND Title = 'rep'",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Bind(tc.tmpl, tc.args...)
			if err != nil {
				t.Fatalf("bind: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestBind_ArgumentCountMismatch(t *testing.T) {
	if _, err := Bind("a = ? AND b = ?", String("x")); err == nil {
		t.Fatalf("expected error for missing argument")
	}
	if _, err := Bind("a = ?", String("x"), String("y")); err == nil {
		t.Fatalf("expected error for extra argument")
	}
}
