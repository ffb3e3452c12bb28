package dispatch

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/halmstad/cargo-dispatch-bot/internal/dialog"
	"github.com/halmstad/cargo-dispatch-bot/internal/identity"
	"github.com/halmstad/cargo-dispatch-bot/internal/store"
)

// fakeNotifier records deliveries and fails on demand per chat id.
type fakeNotifier struct {
	mu     sync.Mutex
	sent   []string // "<chat>:<text>" and "<chat>:order:<id>"
	failed map[int64]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failed: make(map[int64]bool)}
}

func (n *fakeNotifier) SendText(chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failed[chatID] {
		return errors.New("unreachable")
	}
	n.sent = append(n.sent, fmt.Sprintf("%d:%s", chatID, text))
	return nil
}

func (n *fakeNotifier) SendOrder(chatID int64, orderID int64, caption string, photos []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failed[chatID] {
		return errors.New("unreachable")
	}
	n.sent = append(n.sent, fmt.Sprintf("%d:order:%d", chatID, orderID))
	return nil
}

func (n *fakeNotifier) deliveriesTo(chatID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	prefix := fmt.Sprintf("%d:", chatID)
	for _, s := range n.sent {
		if strings.HasPrefix(s, prefix) {
			out = append(out, strings.TrimPrefix(s, prefix))
		}
	}
	return out
}

const adminID = 100

func newTestFacade(t *testing.T) (*Facade, *store.Store, *fakeNotifier) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	n := newFakeNotifier()
	f := NewFacade(FacadeOpts{
		Store:    st,
		Notifier: n,
		Admins:   identity.NewAllowList([]int64{adminID}, nil),
	})
	return f, st, n
}

func seedGroupDriver(t *testing.T, st *store.Store, groupName string, driverID int64, driverName string) int64 {
	t.Helper()
	group, err := st.GroupByName(groupName)
	var gid int64
	if err != nil {
		gid, err = st.CreateGroup(groupName)
		if err != nil {
			t.Fatalf("group %s: %v", groupName, err)
		}
	} else {
		gid = group.ID
	}
	if err := st.UpsertUser(driverID, fmt.Sprintf("driver%d", driverID), driverName, ""); err != nil {
		t.Fatalf("user %d: %v", driverID, err)
	}
	if err := st.CreateDriver(driverID, driverName, "+1000", &gid); err != nil {
		t.Fatalf("driver %d: %v", driverID, err)
	}
	return gid
}

func TestResolveAudience_TargetedGroup(t *testing.T) {
	f, st, _ := newTestFacade(t)
	gid := seedGroupDriver(t, st, "5 ton", 201, "Erik")
	seedGroupDriver(t, st, "5 ton", 202, "Lena")
	seedGroupDriver(t, st, "3 ton", 301, "Bo")

	orderID, err := f.engine.CreateOrder(adminID, "north run", &gid, nil, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	order, _ := st.GetOrder(orderID)

	audience, err := f.engine.ResolveAudience(order)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(audience) != 2 {
		t.Fatalf("audience = %d drivers, want 2", len(audience))
	}
	seen := map[int64]int{}
	for _, d := range audience {
		seen[d.UserID]++
	}
	if seen[201] != 1 || seen[202] != 1 {
		t.Errorf("audience = %v, want 201 and 202 exactly once", seen)
	}
}

func TestResolveAudience_AllGroupsResolvedAtBroadcastTime(t *testing.T) {
	f, st, _ := newTestFacade(t)
	seedGroupDriver(t, st, "5 ton", 201, "Erik")
	gid3 := seedGroupDriver(t, st, "3 ton", 301, "Bo")

	orderID, _ := f.engine.CreateOrder(adminID, "anyone", nil, nil, "")
	order, _ := st.GetOrder(orderID)

	audience, err := f.engine.ResolveAudience(order)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(audience) != 2 {
		t.Fatalf("audience = %d, want 2", len(audience))
	}

	// A group deleted between creation and send just shrinks the
	// audience, no error.
	if err := st.DeleteGroup(gid3); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	audience, err = f.engine.ResolveAudience(order)
	if err != nil {
		t.Fatalf("resolve after delete: %v", err)
	}
	if len(audience) != 1 || audience[0].UserID != 201 {
		t.Fatalf("audience after group delete = %v, want only 201", audience)
	}
}

func TestBroadcast_PartialFailure(t *testing.T) {
	f, st, n := newTestFacade(t)
	gid := seedGroupDriver(t, st, "5 ton", 201, "Erik")
	seedGroupDriver(t, st, "5 ton", 202, "Lena")
	seedGroupDriver(t, st, "5 ton", 203, "Maja")
	n.failed[202] = true

	orderID, _ := f.engine.CreateOrder(adminID, "three stops", &gid, nil, "")
	order, _ := st.GetOrder(orderID)
	audience, _ := f.engine.ResolveAudience(order)

	delivered := f.engine.Broadcast(order, audience)
	if delivered != 2 {
		t.Fatalf("delivered = %d, want 2 of 3", delivered)
	}
	if got := n.deliveriesTo(201); len(got) != 1 {
		t.Errorf("driver 201 deliveries = %v, want one", got)
	}
	if got := n.deliveriesTo(203); len(got) != 1 {
		t.Errorf("driver 203 deliveries = %v, want one", got)
	}
}

// The direct-accept race scenario: two drivers, one order, exactly one
// winner; history reflects it.
func TestDirectAcceptRace(t *testing.T) {
	f, st, n := newTestFacade(t)
	gid := seedGroupDriver(t, st, "5 ton", 201, "Erik")
	seedGroupDriver(t, st, "5 ton", 202, "Lena")

	orderID, _, _, err := f.PublishOrder(adminID, dialog.Draft{
		Text:          "pallets north",
		TargetGroupID: &gid,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, driver := range []int64{201, 202} {
		wg.Add(1)
		go func(i int, driver int64) {
			defer wg.Done()
			results[i] = f.AcceptOrderDirect(orderID, driver)
		}(i, driver)
	}
	wg.Wait()

	var winner, loser int64
	switch {
	case results[0] == nil && errors.Is(results[1], store.ErrAlreadyTaken):
		winner, loser = 201, 202
	case results[1] == nil && errors.Is(results[0], store.ErrAlreadyTaken):
		winner, loser = 202, 201
	default:
		t.Fatalf("race results = %v, want one nil and one ErrAlreadyTaken", results)
	}

	wins, err := f.MyOrders(winner)
	if err != nil {
		t.Fatalf("winner history: %v", err)
	}
	if len(wins) != 1 || wins[0].ID != orderID {
		t.Errorf("winner history = %+v, want order %d", wins, orderID)
	}
	losses, err := f.MyOrders(loser)
	if err != nil {
		t.Fatalf("loser history: %v", err)
	}
	if len(losses) != 0 {
		t.Errorf("loser history = %+v, want empty", losses)
	}

	// The winning side effect: admin was told who committed.
	adminMsgs := n.deliveriesTo(adminID)
	if len(adminMsgs) != 1 || !strings.Contains(adminMsgs[0], fmt.Sprintf("order #%d", orderID)) {
		t.Errorf("admin notifications = %v, want one commit notice", adminMsgs)
	}
}

func TestAcceptOrderDirect_UnknownDriverOrOrder(t *testing.T) {
	f, st, _ := newTestFacade(t)
	gid := seedGroupDriver(t, st, "5 ton", 201, "Erik")
	orderID, _ := f.engine.CreateOrder(adminID, "x", &gid, nil, "")

	if err := f.AcceptOrderDirect(orderID, 999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown driver = %v, want ErrNotFound", err)
	}
	if err := f.AcceptOrderDirect(999, 201); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown order = %v, want ErrNotFound", err)
	}
}

// The bidding scenario: driver bids twice, the admin accepts the second
// bid, the offer table is purged and the acceptance recorded.
func TestPricedBidding(t *testing.T) {
	f, st, n := newTestFacade(t)
	gid := seedGroupDriver(t, st, "5 ton", 201, "Erik")
	orderID, _ := f.engine.CreateOrder(adminID, "ten pallets", &gid, nil, "")

	if _, err := f.SubmitOffer(201, dialog.Draft{OrderID: orderID, Price: 500}); err != nil {
		t.Fatalf("first offer: %v", err)
	}
	if _, err := f.SubmitOffer(201, dialog.Draft{OrderID: orderID, Price: 450, Comment: "tonight"}); err != nil {
		t.Fatalf("second offer: %v", err)
	}

	// Each bid pinged the admin.
	if bids := n.deliveriesTo(adminID); len(bids) != 2 {
		t.Fatalf("admin bid notices = %d, want 2", len(bids))
	}

	// accept_offer_<order>_<driver> commits the latest bid.
	offer, err := f.AcceptBid(orderID, 201)
	if err != nil {
		t.Fatalf("accept bid: %v", err)
	}
	if offer.Price != 450 {
		t.Errorf("accepted price = %v, want the latest bid 450", offer.Price)
	}

	offers, _ := st.OffersByOrder(orderID)
	if len(offers) != 1 || offers[0].ID != offer.ID {
		t.Errorf("offers after commit = %+v, want only the accepted one", offers)
	}

	a, err := st.AcceptanceByOrder(orderID)
	if err != nil {
		t.Fatalf("acceptance: %v", err)
	}
	if a.DriverID != 201 {
		t.Errorf("acceptance driver = %d, want 201", a.DriverID)
	}

	// Winner notification fired.
	found := false
	for _, msg := range n.deliveriesTo(201) {
		if strings.Contains(msg, "accepted") {
			found = true
		}
	}
	if !found {
		t.Errorf("driver 201 messages = %v, want an acceptance notice", n.deliveriesTo(201))
	}

	if _, err := f.AcceptBid(orderID, 201); !errors.Is(err, store.ErrAlreadyTaken) {
		t.Errorf("second accept = %v, want ErrAlreadyTaken", err)
	}
}

func TestAcceptBid_NoBidFromDriver(t *testing.T) {
	f, st, _ := newTestFacade(t)
	gid := seedGroupDriver(t, st, "5 ton", 201, "Erik")
	orderID, _ := f.engine.CreateOrder(adminID, "x", &gid, nil, "")

	if _, err := f.AcceptBid(orderID, 201); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("accept with no bids = %v, want ErrNotFound", err)
	}
}

func TestNotificationFailureDoesNotRollBackAcceptance(t *testing.T) {
	f, st, n := newTestFacade(t)
	gid := seedGroupDriver(t, st, "5 ton", 201, "Erik")
	orderID, _ := f.engine.CreateOrder(adminID, "x", &gid, nil, "")
	n.failed[adminID] = true

	if err := f.AcceptOrderDirect(orderID, 201); err != nil {
		t.Fatalf("accept = %v, want success despite notify failure", err)
	}
	if _, err := st.AcceptanceByOrder(orderID); err != nil {
		t.Fatalf("acceptance missing after notify failure: %v", err)
	}
}

func TestRemoveDriver_HistorySurvives(t *testing.T) {
	f, st, _ := newTestFacade(t)
	gid := seedGroupDriver(t, st, "5 ton", 201, "Erik")
	orderID, _ := f.engine.CreateOrder(adminID, "x", &gid, nil, "")

	if err := f.AcceptOrderDirect(orderID, 201); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.RemoveDriver("driver201"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	u, err := st.GetUser(201)
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	if string(u.Role) != "guest" {
		t.Errorf("role = %q, want guest", u.Role)
	}

	a, err := st.AcceptanceByOrder(orderID)
	if err != nil {
		t.Fatalf("acceptance after removal: %v", err)
	}
	if a.DriverID != 201 {
		t.Errorf("acceptance driver = %d, want 201", a.DriverID)
	}
}

func TestRegisterContact_RoleEscalation(t *testing.T) {
	f, st, _ := newTestFacade(t)

	role, err := f.RegisterContact(dialog.Participant{ID: 500, Username: "newbie"}, "New", "User")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if string(role) != "guest" {
		t.Errorf("first contact role = %q, want guest", role)
	}

	role, err = f.RegisterContact(dialog.Participant{ID: adminID, Username: "boss"}, "The", "Boss")
	if err != nil {
		t.Fatalf("register admin: %v", err)
	}
	if string(role) != "admin" {
		t.Errorf("admin role = %q, want admin", role)
	}
	u, _ := st.GetUser(adminID)
	if string(u.Role) != "admin" {
		t.Errorf("stored admin role = %q, want admin", u.Role)
	}

	seedGroupDriver(t, st, "5 ton", 201, "Erik")
	role, err = f.RegisterContact(dialog.Participant{ID: 201, Username: "driver201"}, "Erik", "")
	if err != nil {
		t.Fatalf("register driver: %v", err)
	}
	if string(role) != "driver" {
		t.Errorf("driver role = %q, want driver", role)
	}
}

// The contact-card path: a user shares their own contact to back-fill
// the phone, and an admin resolves a shared contact to a registered user.
func TestSavePhoneAndLookup(t *testing.T) {
	f, _, _ := newTestFacade(t)

	if _, err := f.RegisterContact(dialog.Participant{ID: 300, Username: "maja"}, "Maja", "Lind"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.SavePhone(300, "+46709999999"); err != nil {
		t.Fatalf("save phone: %v", err)
	}

	u, err := f.UserByPhone("+46709999999")
	if err != nil {
		t.Fatalf("by phone: %v", err)
	}
	if u.ID != 300 {
		t.Errorf("ID = %d, want 300", u.ID)
	}

	if err := f.SavePhone(999, "+1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("save for unknown user = %v, want ErrNotFound", err)
	}
}

func TestUserByPhone_Unknown(t *testing.T) {
	f, _, _ := newTestFacade(t)
	if _, err := f.UserByPhone("+0"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown phone = %v, want ErrNotFound", err)
	}
}

func TestOrderTaken_AdvisoryRead(t *testing.T) {
	f, st, _ := newTestFacade(t)
	gid := seedGroupDriver(t, st, "5 ton", 201, "Erik")
	orderID, _ := f.engine.CreateOrder(adminID, "x", &gid, nil, "")

	if f.OrderTaken(orderID) {
		t.Error("open order reported taken")
	}
	if err := f.AcceptOrderDirect(orderID, 201); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !f.OrderTaken(orderID) {
		t.Error("committed order reported open")
	}
}
