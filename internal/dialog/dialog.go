// Package dialog drives the multi-step conversations the bot holds with
// a single participant: driver onboarding, group creation, broadcast
// composition and price requests. Steps form a closed enumeration with a
// fixed transition table; state lives in an injected Machine, keyed by
// participant id, and does not survive a restart.
package dialog

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Step identifies the event a dialog is currently waiting for.
type Step int

const (
	StepIdle Step = iota
	StepDriverUsername
	StepDriverFullName
	StepDriverPhone
	StepDriverGroup
	StepGroupName
	StepBroadcastPhotos
	StepBroadcastText
	StepBroadcastGroup
	StepTopicName
	StepPrice
)

// Flow identifies which dialog a participant is in.
type Flow int

const (
	FlowNone Flow = iota
	FlowAddDriver
	FlowCreateGroup
	FlowBroadcast
	FlowBroadcastTopic
	FlowPriceRequest
)

// flowSteps is the transition table: the ordered steps of each flow.
// Advancing past the last step completes the dialog.
var flowSteps = map[Flow][]Step{
	FlowAddDriver:      {StepDriverUsername, StepDriverFullName, StepDriverPhone, StepDriverGroup},
	FlowCreateGroup:    {StepGroupName},
	FlowBroadcast:      {StepBroadcastPhotos, StepBroadcastText, StepBroadcastGroup},
	FlowBroadcastTopic: {StepBroadcastPhotos, StepBroadcastText, StepBroadcastGroup, StepTopicName},
	FlowPriceRequest:   {StepPrice},
}

// adminFlows marks the dialogs whose every step re-checks authorization.
var adminFlows = map[Flow]bool{
	FlowAddDriver:      true,
	FlowCreateGroup:    true,
	FlowBroadcast:      true,
	FlowBroadcastTopic: true,
}

// MaxBroadcastPhotos caps the photo-collection step.
const MaxBroadcastPhotos = 6

// AllGroupsOption is the menu selection that targets every group.
const AllGroupsOption = "All groups"

// Participant identifies the sender of an incoming event.
type Participant struct {
	ID       int64
	Username string
}

// Event is one incoming chat event, already reduced to the shapes a
// dialog step can consume.
type Event struct {
	Text  string
	Photo string // opaque media reference; empty when the event is text
}

// Draft accumulates the data a dialog collects before completion.
type Draft struct {
	// add-driver
	DriverUserID   int64
	DriverUsername string
	DriverFullName string
	DriverPhone    string
	DriverGroupID  *int64

	// create-group
	GroupName string

	// broadcast
	Photos        []string
	Text          string
	TargetGroupID *int64 // nil with AllGroups set means every group
	AllGroups     bool
	TopicName     string

	// price request
	OrderID int64
	Price   float64
	Comment string
}

// Kind classifies what an Advance or Begin call produced.
type Kind int

const (
	// None means the participant has no active dialog.
	None Kind = iota
	// Next means the dialog advanced; prompt for Result.Step.
	Next
	// Stay means the event was captured without changing step, e.g. a
	// photo added to the collection.
	Stay
	// Rejected means the event had the wrong shape or failed validation;
	// the step is unchanged and should be re-prompted with Reason.
	Rejected
	// Completed means the dialog finished; Draft holds everything.
	Completed
	// Aborted means a lookup failed in a way the participant cannot fix
	// by retrying; the dialog was discarded.
	Aborted
	// Denied means the participant lost authorization mid-dialog; the
	// dialog was discarded.
	Denied
)

// Result reports the outcome of driving a dialog one event forward.
type Result struct {
	Kind   Kind
	Flow   Flow
	Step   Step
	Reason string
	Draft  Draft
}

// Options wires the Machine to its collaborators. All lookups are
// injected so the machine never talks to storage directly.
type Options struct {
	// IsAdmin re-checks authorization on every step of admin-only flows.
	IsAdmin func(id int64, username string) bool
	// LookupUser resolves a chat handle to a known user id.
	LookupUser func(username string) (int64, bool)
	// LookupGroup resolves a group name to its id.
	LookupGroup func(name string) (int64, bool)
}

type session struct {
	flow  Flow
	pos   int // index into flowSteps[flow]
	draft Draft
}

// Machine holds the active dialog of every participant.
type Machine struct {
	mu       sync.Mutex
	sessions map[int64]*session
	opts     Options
}

// NewMachine creates a Machine.
func NewMachine(opts Options) *Machine {
	return &Machine{
		sessions: make(map[int64]*session),
		opts:     opts,
	}
}

// Active reports whether the participant is mid-dialog.
func (m *Machine) Active(p Participant) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[p.ID]
	return ok
}

// Cancel discards the participant's dialog and draft, from any state.
// Calling it with no active dialog is a no-op.
func (m *Machine) Cancel(p Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, p.ID)
}

// BeginAddDriver starts the admin dialog that registers a driver.
func (m *Machine) BeginAddDriver(p Participant) Result {
	return m.begin(p, FlowAddDriver)
}

// BeginCreateGroup starts the admin dialog that creates a capacity group.
func (m *Machine) BeginCreateGroup(p Participant) Result {
	return m.begin(p, FlowCreateGroup)
}

// BeginBroadcast starts the admin dialog that composes an order
// broadcast. withTopic adds the topic-name step at the end.
func (m *Machine) BeginBroadcast(p Participant, withTopic bool) Result {
	flow := FlowBroadcast
	if withTopic {
		flow = FlowBroadcastTopic
	}
	return m.begin(p, flow)
}

// BeginPriceRequest starts the driver dialog that collects a priced
// offer for one order.
func (m *Machine) BeginPriceRequest(p Participant, orderID int64) Result {
	return m.beginWith(p, FlowPriceRequest, Draft{OrderID: orderID})
}

func (m *Machine) begin(p Participant, flow Flow) Result {
	return m.beginWith(p, flow, Draft{})
}

// beginWith seeds the session and its draft under one lock, so a
// concurrent Cancel can never observe a session without its seed data.
func (m *Machine) beginWith(p Participant, flow Flow, draft Draft) Result {
	if adminFlows[flow] && !m.opts.IsAdmin(p.ID, p.Username) {
		return Result{Kind: Denied, Flow: flow}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Starting a new dialog replaces whatever was in progress.
	m.sessions[p.ID] = &session{flow: flow, draft: draft}
	return Result{Kind: Next, Flow: flow, Step: flowSteps[flow][0], Draft: draft}
}

// Advance drives the participant's dialog one event forward. With no
// active dialog it returns Kind None and the event should be treated as
// a menu command by the caller.
func (m *Machine) Advance(p Participant, ev Event) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[p.ID]
	if !ok {
		return Result{Kind: None}
	}

	if adminFlows[sess.flow] && !m.opts.IsAdmin(p.ID, p.Username) {
		delete(m.sessions, p.ID)
		return Result{Kind: Denied, Flow: sess.flow}
	}

	steps := flowSteps[sess.flow]
	step := steps[sess.pos]

	res := m.consume(sess, step, ev)
	switch res.Kind {
	case Next:
		sess.pos++
		if sess.pos >= len(steps) {
			draft := sess.draft
			delete(m.sessions, p.ID)
			return Result{Kind: Completed, Flow: sess.flow, Draft: draft}
		}
		res.Step = steps[sess.pos]
	case Aborted:
		delete(m.sessions, p.ID)
	}
	res.Flow = sess.flow
	res.Draft = sess.draft
	return res
}

var phoneRe = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{5,19}$`)

// consume applies one event to one step and decides the outcome. It is
// the only place that interprets event shapes.
func (m *Machine) consume(sess *session, step Step, ev Event) Result {
	switch step {
	case StepDriverUsername:
		if ev.Text == "" {
			return Result{Kind: Rejected, Step: step, Reason: "send the driver's username as text"}
		}
		username := strings.TrimPrefix(strings.TrimSpace(ev.Text), "@")
		if username == "" {
			return Result{Kind: Rejected, Step: step, Reason: "username cannot be empty"}
		}
		userID, ok := m.opts.LookupUser(username)
		if !ok {
			return Result{Kind: Aborted, Step: step,
				Reason: "user @" + username + " is unknown; they must start the bot first"}
		}
		sess.draft.DriverUsername = username
		sess.draft.DriverUserID = userID
		return Result{Kind: Next}

	case StepDriverFullName:
		name := strings.TrimSpace(ev.Text)
		if name == "" {
			return Result{Kind: Rejected, Step: step, Reason: "send the driver's full name as text"}
		}
		sess.draft.DriverFullName = name
		return Result{Kind: Next}

	case StepDriverPhone:
		phone := strings.TrimSpace(ev.Text)
		if !phoneRe.MatchString(phone) {
			return Result{Kind: Rejected, Step: step, Reason: "that does not look like a phone number"}
		}
		sess.draft.DriverPhone = phone
		return Result{Kind: Next}

	case StepDriverGroup:
		name := strings.TrimSpace(ev.Text)
		groupID, ok := m.opts.LookupGroup(name)
		if !ok {
			return Result{Kind: Rejected, Step: step, Reason: "pick one of the offered groups"}
		}
		sess.draft.DriverGroupID = &groupID
		return Result{Kind: Next}

	case StepGroupName:
		name := strings.TrimSpace(ev.Text)
		if name == "" {
			return Result{Kind: Rejected, Step: step, Reason: "send the new group's name as text"}
		}
		sess.draft.GroupName = name
		return Result{Kind: Next}

	case StepBroadcastPhotos:
		switch {
		case ev.Photo != "":
			if len(sess.draft.Photos) >= MaxBroadcastPhotos {
				return Result{Kind: Rejected, Step: step,
					Reason: "photo limit reached, send /next to continue"}
			}
			sess.draft.Photos = append(sess.draft.Photos, ev.Photo)
			if len(sess.draft.Photos) == MaxBroadcastPhotos {
				return Result{Kind: Stay, Step: step,
					Reason: "photo limit reached, send /next to continue"}
			}
			return Result{Kind: Stay, Step: step,
				Reason: "photo added, " + strconv.Itoa(MaxBroadcastPhotos-len(sess.draft.Photos)) + " more allowed; /next to continue"}
		case ev.Text == "/skip", ev.Text == "/next":
			return Result{Kind: Next}
		default:
			return Result{Kind: Rejected, Step: step,
				Reason: "send photos, or /skip to continue without them"}
		}

	case StepBroadcastText:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return Result{Kind: Rejected, Step: step, Reason: "send the order description as text"}
		}
		sess.draft.Text = text
		return Result{Kind: Next}

	case StepBroadcastGroup:
		name := strings.TrimSpace(ev.Text)
		if name == AllGroupsOption {
			sess.draft.AllGroups = true
			sess.draft.TargetGroupID = nil
			return Result{Kind: Next}
		}
		groupID, ok := m.opts.LookupGroup(name)
		if !ok {
			return Result{Kind: Rejected, Step: step, Reason: "pick one of the offered groups"}
		}
		sess.draft.TargetGroupID = &groupID
		return Result{Kind: Next}

	case StepTopicName:
		name := strings.TrimSpace(ev.Text)
		if name == "" {
			return Result{Kind: Rejected, Step: step, Reason: "send the topic name as text"}
		}
		sess.draft.TopicName = name
		return Result{Kind: Next}

	case StepPrice:
		price, comment, err := parsePrice(ev.Text)
		if err != nil {
			return Result{Kind: Rejected, Step: step,
				Reason: "send your price as a number, optionally followed by a comment"}
		}
		sess.draft.Price = price
		sess.draft.Comment = comment
		return Result{Kind: Next}
	}

	return Result{Kind: Rejected, Step: step, Reason: "unexpected input"}
}

// parsePrice splits "4500 can pick up tonight" into the price and the
// trailing comment.
func parsePrice(text string) (float64, string, error) {
	text = strings.TrimSpace(text)
	head, tail, _ := strings.Cut(text, " ")
	price, err := strconv.ParseFloat(strings.ReplaceAll(head, ",", "."), 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, "", strconv.ErrSyntax
	}
	return price, strings.TrimSpace(tail), nil
}
