package dialog

import (
	"strings"
	"sync"
	"testing"
)

// newTestMachine wires a machine to in-memory lookups. admin controls
// the authorization answer and may be flipped mid-test.
func newTestMachine(admin *bool, users map[string]int64, groups map[string]int64) *Machine {
	return NewMachine(Options{
		IsAdmin:    func(int64, string) bool { return *admin },
		LookupUser: func(u string) (int64, bool) { id, ok := users[u]; return id, ok },
		LookupGroup: func(g string) (int64, bool) {
			id, ok := groups[g]
			return id, ok
		},
	})
}

func admin() *bool { b := true; return &b }

var alice = Participant{ID: 1, Username: "alice"}

func TestAddDriver_HappyPath(t *testing.T) {
	m := newTestMachine(admin(), map[string]int64{"erik": 201}, map[string]int64{"5 ton": 7})

	res := m.BeginAddDriver(alice)
	if res.Kind != Next || res.Step != StepDriverUsername {
		t.Fatalf("begin = %+v, want Next/StepDriverUsername", res)
	}

	res = m.Advance(alice, Event{Text: "@erik"})
	if res.Kind != Next || res.Step != StepDriverFullName {
		t.Fatalf("username step = %+v, want Next/StepDriverFullName", res)
	}

	res = m.Advance(alice, Event{Text: "Erik Olsson"})
	if res.Kind != Next || res.Step != StepDriverPhone {
		t.Fatalf("name step = %+v, want Next/StepDriverPhone", res)
	}

	res = m.Advance(alice, Event{Text: "+46 70 123 45 67"})
	if res.Kind != Next || res.Step != StepDriverGroup {
		t.Fatalf("phone step = %+v, want Next/StepDriverGroup", res)
	}

	res = m.Advance(alice, Event{Text: "5 ton"})
	if res.Kind != Completed {
		t.Fatalf("group step = %+v, want Completed", res)
	}
	d := res.Draft
	if d.DriverUserID != 201 || d.DriverUsername != "erik" || d.DriverFullName != "Erik Olsson" {
		t.Errorf("draft = %+v", d)
	}
	if d.DriverGroupID == nil || *d.DriverGroupID != 7 {
		t.Errorf("group id = %v, want 7", d.DriverGroupID)
	}
	if m.Active(alice) {
		t.Error("dialog still active after completion")
	}
}

func TestAddDriver_ValidationKeepsState(t *testing.T) {
	m := newTestMachine(admin(), map[string]int64{"erik": 201}, map[string]int64{"5 ton": 7})
	m.BeginAddDriver(alice)
	m.Advance(alice, Event{Text: "erik"})
	m.Advance(alice, Event{Text: "Erik Olsson"})

	// Wrong shape: a photo where a phone number is expected.
	res := m.Advance(alice, Event{Photo: "file-1"})
	if res.Kind != Rejected || res.Step != StepDriverPhone {
		t.Fatalf("photo at phone step = %+v, want Rejected at same step", res)
	}

	// Malformed phone: same state, retryable.
	res = m.Advance(alice, Event{Text: "call me maybe"})
	if res.Kind != Rejected || res.Step != StepDriverPhone {
		t.Fatalf("bad phone = %+v, want Rejected at same step", res)
	}

	// A valid phone still advances after any number of rejections.
	res = m.Advance(alice, Event{Text: "+46701234567"})
	if res.Kind != Next || res.Step != StepDriverGroup {
		t.Fatalf("good phone after rejects = %+v, want Next", res)
	}

	// Unknown group selection: validation, not abort.
	res = m.Advance(alice, Event{Text: "12 ton"})
	if res.Kind != Rejected || res.Step != StepDriverGroup {
		t.Fatalf("unknown group = %+v, want Rejected at same step", res)
	}
}

func TestAddDriver_UnknownUserAborts(t *testing.T) {
	m := newTestMachine(admin(), map[string]int64{}, nil)
	m.BeginAddDriver(alice)

	res := m.Advance(alice, Event{Text: "ghost"})
	if res.Kind != Aborted {
		t.Fatalf("unknown user = %+v, want Aborted", res)
	}
	if m.Active(alice) {
		t.Error("dialog still active after abort")
	}
}

func TestAdminFlow_DeniedForNonAdmin(t *testing.T) {
	isAdmin := false
	m := newTestMachine(&isAdmin, nil, nil)

	if res := m.BeginAddDriver(alice); res.Kind != Denied {
		t.Fatalf("begin as non-admin = %+v, want Denied", res)
	}
	if m.Active(alice) {
		t.Error("dialog active after denied begin")
	}
}

func TestAdminFlow_AuthorizationLossMidDialog(t *testing.T) {
	isAdmin := true
	m := newTestMachine(&isAdmin, map[string]int64{"erik": 201}, nil)
	m.BeginAddDriver(alice)
	m.Advance(alice, Event{Text: "erik"})

	isAdmin = false
	res := m.Advance(alice, Event{Text: "Erik Olsson"})
	if res.Kind != Denied {
		t.Fatalf("advance after losing rights = %+v, want Denied", res)
	}
	if m.Active(alice) {
		t.Error("dialog must be discarded on authorization loss")
	}
}

func TestBroadcast_PhotoCapAndSkip(t *testing.T) {
	m := newTestMachine(admin(), nil, map[string]int64{"3 ton": 3})

	res := m.BeginBroadcast(alice, false)
	if res.Step != StepBroadcastPhotos {
		t.Fatalf("begin = %+v", res)
	}

	for i := 0; i < MaxBroadcastPhotos; i++ {
		res = m.Advance(alice, Event{Photo: "photo"})
		if res.Kind != Stay {
			t.Fatalf("photo %d = %+v, want Stay", i+1, res)
		}
	}
	if !strings.Contains(res.Reason, "limit reached") {
		t.Errorf("cap notice = %q, want limit-reached wording", res.Reason)
	}

	// The 7th photo is rejected, not silently dropped.
	res = m.Advance(alice, Event{Photo: "overflow"})
	if res.Kind != Rejected {
		t.Fatalf("photo over cap = %+v, want Rejected", res)
	}
	if len(res.Draft.Photos) != MaxBroadcastPhotos {
		t.Fatalf("photos = %d, want %d", len(res.Draft.Photos), MaxBroadcastPhotos)
	}

	// Plain text is the wrong shape here.
	res = m.Advance(alice, Event{Text: "hello"})
	if res.Kind != Rejected || res.Step != StepBroadcastPhotos {
		t.Fatalf("text at photo step = %+v, want Rejected", res)
	}

	res = m.Advance(alice, Event{Text: "/next"})
	if res.Kind != Next || res.Step != StepBroadcastText {
		t.Fatalf("/next = %+v, want Next/StepBroadcastText", res)
	}

	res = m.Advance(alice, Event{Text: "two pallets, morning pickup"})
	if res.Kind != Next || res.Step != StepBroadcastGroup {
		t.Fatalf("text step = %+v", res)
	}

	res = m.Advance(alice, Event{Text: AllGroupsOption})
	if res.Kind != Completed {
		t.Fatalf("group step = %+v, want Completed", res)
	}
	if !res.Draft.AllGroups || res.Draft.TargetGroupID != nil {
		t.Errorf("draft targeting = %+v, want all groups", res.Draft)
	}
	if len(res.Draft.Photos) != MaxBroadcastPhotos {
		t.Errorf("photos in final draft = %d, want %d", len(res.Draft.Photos), MaxBroadcastPhotos)
	}
}

func TestBroadcast_SkipWithoutPhotos(t *testing.T) {
	m := newTestMachine(admin(), nil, map[string]int64{"3 ton": 3})
	m.BeginBroadcast(alice, false)

	if res := m.Advance(alice, Event{Text: "/skip"}); res.Kind != Next || res.Step != StepBroadcastText {
		t.Fatalf("/skip = %+v, want Next/StepBroadcastText", res)
	}
	m.Advance(alice, Event{Text: "no photos this time"})

	res := m.Advance(alice, Event{Text: "3 ton"})
	if res.Kind != Completed {
		t.Fatalf("targeted group = %+v, want Completed", res)
	}
	if res.Draft.TargetGroupID == nil || *res.Draft.TargetGroupID != 3 {
		t.Errorf("target group = %v, want 3", res.Draft.TargetGroupID)
	}
	if len(res.Draft.Photos) != 0 {
		t.Errorf("photos = %v, want none", res.Draft.Photos)
	}
}

func TestBroadcastTopic_ExtraStep(t *testing.T) {
	m := newTestMachine(admin(), nil, map[string]int64{"3 ton": 3})
	m.BeginBroadcast(alice, true)
	m.Advance(alice, Event{Text: "/skip"})
	m.Advance(alice, Event{Text: "text"})

	res := m.Advance(alice, Event{Text: "3 ton"})
	if res.Kind != Next || res.Step != StepTopicName {
		t.Fatalf("after group with topic flow = %+v, want StepTopicName", res)
	}

	res = m.Advance(alice, Event{Text: "night runs"})
	if res.Kind != Completed || res.Draft.TopicName != "night runs" {
		t.Fatalf("topic completion = %+v", res)
	}
}

func TestPriceRequest(t *testing.T) {
	m := newTestMachine(admin(), nil, nil)
	driver := Participant{ID: 201, Username: "erik"}

	res := m.BeginPriceRequest(driver, 42)
	if res.Kind != Next || res.Step != StepPrice {
		t.Fatalf("begin = %+v", res)
	}

	if res = m.Advance(driver, Event{Text: "not a price"}); res.Kind != Rejected {
		t.Fatalf("bad price = %+v, want Rejected", res)
	}
	if res = m.Advance(driver, Event{Text: "-5"}); res.Kind != Rejected {
		t.Fatalf("negative price = %+v, want Rejected", res)
	}

	res = m.Advance(driver, Event{Text: "450 can load tonight"})
	if res.Kind != Completed {
		t.Fatalf("price = %+v, want Completed", res)
	}
	if res.Draft.OrderID != 42 || res.Draft.Price != 450 || res.Draft.Comment != "can load tonight" {
		t.Errorf("draft = %+v", res.Draft)
	}
}

func TestPriceRequest_CommaDecimal(t *testing.T) {
	m := newTestMachine(admin(), nil, nil)
	driver := Participant{ID: 201}
	m.BeginPriceRequest(driver, 42)

	res := m.Advance(driver, Event{Text: "449,50"})
	if res.Kind != Completed || res.Draft.Price != 449.5 {
		t.Fatalf("comma decimal = %+v, want price 449.5", res)
	}
}

func TestPriceRequest_RejectsNonFinite(t *testing.T) {
	m := newTestMachine(admin(), nil, nil)
	driver := Participant{ID: 201}

	for _, text := range []string{"NaN", "nan", "Inf", "+Inf", "-Inf", "inf urgent"} {
		m.BeginPriceRequest(driver, 42)
		if res := m.Advance(driver, Event{Text: text}); res.Kind != Rejected {
			t.Errorf("price %q = %+v, want Rejected", text, res)
		}
	}
}

// A cancel racing the start of a price dialog must never observe a
// session without its order id, and must never panic.
func TestBeginPriceRequest_ConcurrentCancel(t *testing.T) {
	m := newTestMachine(admin(), nil, nil)
	driver := Participant{ID: 201}

	for i := 0; i < 200; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.BeginPriceRequest(driver, 42)
		}()
		go func() {
			defer wg.Done()
			m.Cancel(driver)
		}()
		wg.Wait()

		if m.Active(driver) {
			res := m.Advance(driver, Event{Text: "450"})
			if res.Kind != Completed || res.Draft.OrderID != 42 {
				t.Fatalf("surviving dialog = %+v, want Completed with order 42", res)
			}
		}
	}
}

func TestCancel_Idempotent(t *testing.T) {
	m := newTestMachine(admin(), nil, nil)

	// No active dialog: a no-op, not an error.
	m.Cancel(alice)

	m.BeginCreateGroup(alice)
	if !m.Active(alice) {
		t.Fatal("dialog should be active")
	}
	m.Cancel(alice)
	if m.Active(alice) {
		t.Fatal("dialog should be gone after cancel")
	}
	m.Cancel(alice)

	if res := m.Advance(alice, Event{Text: "anything"}); res.Kind != None {
		t.Fatalf("advance after cancel = %+v, want None", res)
	}
}

func TestBegin_ReplacesActiveDialog(t *testing.T) {
	m := newTestMachine(admin(), nil, map[string]int64{"3 ton": 3})

	m.BeginBroadcast(alice, false)
	m.Advance(alice, Event{Photo: "p1"})

	// Starting another dialog discards the broadcast draft.
	res := m.BeginCreateGroup(alice)
	if res.Kind != Next || res.Step != StepGroupName {
		t.Fatalf("restart = %+v", res)
	}
	res = m.Advance(alice, Event{Text: "8 ton"})
	if res.Kind != Completed || res.Draft.GroupName != "8 ton" {
		t.Fatalf("group completion = %+v", res)
	}
	if len(res.Draft.Photos) != 0 {
		t.Errorf("stale photos leaked into new draft: %v", res.Draft.Photos)
	}
}
