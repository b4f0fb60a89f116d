package calls

import "testing"

var (
	nameFilter = NewGenericNameFilter([]string{"corporate", "gear", "stores", "health", "pk", "customer service"})
	extFilter  = NewGenericNameFilter([]string{"corporate", "gear", "stores", "health", "pk", "customer service", "accounts receivable"})
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"(415) 555-2671", "4155552671"},
		{"+1 415-555-2671", "4155552671"},
		{"14155552671", "4155552671"},
		{"+1 650-253-0000 ext. 123", "6502530000"},
		{"555-12", "55512"},
		{"101", "101"},
		{"", ""},
		{"  ", ""},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestGenericNameFilter(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"Customer Service Queue", true},
		{"customer   service", true},
		{"CORPORATE", true},
		{"Stores - Downtown", true},
		{"PK Main", true},
		{"Pkeller Smith", false},
		{"Jane Doe", false},
		{"Accounts Receivable", false},
	}
	for _, tc := range cases {
		if got := nameFilter.IsGeneric(tc.name); got != tc.want {
			t.Fatalf("IsGeneric(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
	if !extFilter.IsGeneric("accounts  receivable") {
		t.Fatalf("expected extension filter to match accounts receivable")
	}
	if (GenericNameFilter{}).IsGeneric("anything") {
		t.Fatalf("empty filter must match nothing")
	}
}

func TestActingPartyName_OutboundUsesCaller(t *testing.T) {
	c := CallEvent{
		Direction: DirectionOutbound,
		From:      Party{Name: "Customer Service"},
		To:        Party{Name: "Someone Else"},
	}
	got, ok := ActingPartyName(c, nameFilter)
	if !ok || got != "Customer Service" {
		t.Fatalf("expected caller name unconditionally, got %q ok=%v", got, ok)
	}

	c.From.Name = "  "
	if _, ok := ActingPartyName(c, nameFilter); ok {
		t.Fatalf("expected none for blank caller name")
	}
}

func TestActingPartyName_InboundSkipsDepartments(t *testing.T) {
	c := CallEvent{
		Direction: DirectionInbound,
		To:        Party{Name: "Main Line"},
		Legs: []Leg{
			{To: Party{Name: "Customer Service Queue"}},
			{To: Party{Name: "   "}},
			{To: Party{Name: " Jane Doe "}},
			{To: Party{Name: "John Roe"}},
		},
	}
	got, ok := ActingPartyName(c, nameFilter)
	if !ok || got != "Jane Doe" {
		t.Fatalf("expected first human leg, got %q ok=%v", got, ok)
	}
}

func TestActingPartyName_InboundFallsBackToTopLevel(t *testing.T) {
	c := CallEvent{
		Direction: DirectionInbound,
		To:        Party{Name: "Front Desk"},
		Legs:      []Leg{{To: Party{Name: "Customer Service Queue"}}},
	}
	got, ok := ActingPartyName(c, nameFilter)
	if !ok || got != "Front Desk" {
		t.Fatalf("expected top-level to name, got %q ok=%v", got, ok)
	}

	c.To.Name = ""
	if got, ok := ActingPartyName(c, nameFilter); ok {
		t.Fatalf("expected none, got %q", got)
	}
}

func TestActingExtension_Outbound(t *testing.T) {
	c := CallEvent{Direction: DirectionOutbound, From: Party{ExtensionNumber: "101", ExtensionID: "9001"}}
	if got, _ := ActingExtension(c, extFilter); got != "101" {
		t.Fatalf("expected from extension number, got %q", got)
	}

	c = CallEvent{
		Direction: DirectionOutbound,
		From:      Party{ExtensionID: "9001"},
		Legs:      []Leg{{From: Party{}}, {From: Party{ExtensionNumber: "202"}}},
	}
	if got, _ := ActingExtension(c, extFilter); got != "202" {
		t.Fatalf("expected leg extension number, got %q", got)
	}

	c.Legs = nil
	if got, _ := ActingExtension(c, extFilter); got != "9001" {
		t.Fatalf("expected extension id fallback, got %q", got)
	}

	c.From.ExtensionID = ""
	if _, ok := ActingExtension(c, extFilter); ok {
		t.Fatalf("expected none")
	}
}

func TestActingExtension_Inbound(t *testing.T) {
	c := CallEvent{
		Direction: DirectionInbound,
		Legs: []Leg{
			{To: Party{Name: "Accounts Receivable", ExtensionNumber: "300"}},
			{To: Party{Name: "Jane Doe", ExtensionID: "7001"}},
			{To: Party{Name: "John Roe", ExtensionNumber: "400"}},
		},
	}
	got, ok := ActingExtension(c, extFilter)
	if !ok || got != "7001" {
		t.Fatalf("expected extension id of first human leg, got %q ok=%v", got, ok)
	}

	c.Legs[1].To.ExtensionNumber = "205"
	if got, _ := ActingExtension(c, extFilter); got != "205" {
		t.Fatalf("expected extension number preferred, got %q", got)
	}

	c.Legs = []Leg{{To: Party{Name: "Jane Doe"}}, {To: Party{Name: "John Roe", ExtensionNumber: "400"}}}
	if _, ok := ActingExtension(c, extFilter); ok {
		t.Fatalf("a matching leg without extension data ends the scan")
	}
}

func TestCallEvent_Helpers(t *testing.T) {
	c := CallEvent{
		Direction:       DirectionInbound,
		Type:            CallTypeVoice,
		From:            Party{PhoneNumber: "+14155552671"},
		To:              Party{PhoneNumber: "+16502530000"},
		DurationSeconds: 90,
	}
	if c.ExternalNumber() != "+14155552671" {
		t.Fatalf("inbound external number is the caller")
	}
	c.Direction = DirectionOutbound
	if c.ExternalNumber() != "+16502530000" {
		t.Fatalf("outbound external number is the callee")
	}
	if got := c.EndTime().Sub(c.StartTime).Seconds(); got != 90 {
		t.Fatalf("expected 90s duration, got %v", got)
	}
	if !c.IsVoice() {
		t.Fatalf("expected voice")
	}
	c.Type = CallTypeFax
	if c.IsVoice() {
		t.Fatalf("fax is not voice")
	}
}
