// Package protocol defines the command envelope accepted by the engine and
// the response envelope it returns.
//
// A command is a JSON object with three keys:
//
//	{"t": "Task", "i": "buy-milk-aa3", "a": "Show"}
//
// "t" is the item type name and "i" the item ident; both are optional and
// only some actions need them. "a" is the action: either a bare string for
// actions without a payload, or an object with exactly one key naming the
// action and holding its payload:
//
//	{"a": {"BlockBy": "other-aa7"}}
//	{"a": {"Push": {"force": true}}}
//	{"a": {"Create": [{"parent": "x-aa1"}, {"name": "Buy milk"}]}}
package protocol

import (
	"errors"
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Protocol errors.
var (
	// ErrMalformed is returned when a command cannot be decoded.
	ErrMalformed = errors.New("malformed command")

	// ErrUnknownAction is returned for an action name that is not defined.
	ErrUnknownAction = errors.New("unknown action")

	// ErrMissingField is returned when an action needs "t" or "i" and the
	// command does not carry it.
	ErrMissingField = errors.New("missing field")
)

// Class says which component carries out an action.
type Class int

const (
	// ClassEngine actions are handled by the engine itself.
	ClassEngine Class = iota
	// ClassWorld actions are handled by the world.
	ClassWorld
	// ClassItem actions are delegated to the item named by "i".
	ClassItem
)

func (c Class) String() string {
	switch c {
	case ClassEngine:
		return "engine"
	case ClassWorld:
		return "world"
	case ClassItem:
		return "item"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Name identifies an action.
type Name string

// Actions.
const (
	Start            Name = "Start"
	Shutdown         Name = "Shutdown"
	DeleteEverything Name = "DeleteEverything"
	Pull             Name = "Pull"
	PushAndQuit      Name = "PushAndQuit"
	Push             Name = "Push"
	Show             Name = "Show"
	Edit             Name = "Edit"
	Update           Name = "Update"
	Delete           Name = "Delete"
	Archive          Name = "Archive"
	ListReady        Name = "ListReady"
	ListOpen         Name = "ListOpen"
	ListAll          Name = "ListAll"
	New              Name = "New"
	NewChild         Name = "NewChild"
	Create           Name = "Create"
	Clone            Name = "Clone"
	Close            Name = "Close"
	Reopen           Name = "Reopen"
	GetAll           Name = "GetAll"
	CheckData        Name = "CheckData"
	BlockBy          Name = "BlockBy"
	UnblockBy        Name = "UnblockBy"
	TestError1       Name = "TestError1"
	TestError2       Name = "TestError2"
)

type payload int

const (
	payloadNone payload = iota
	payloadIdent
	payloadForce
	payloadFields
)

type actionInfo struct {
	class   Class
	payload payload
}

var actions = map[Name]actionInfo{
	Start:            {ClassWorld, payloadNone},
	Shutdown:         {ClassEngine, payloadNone},
	DeleteEverything: {ClassEngine, payloadNone},
	Pull:             {ClassWorld, payloadNone},
	PushAndQuit:      {ClassEngine, payloadForce},
	Push:             {ClassWorld, payloadForce},
	Show:             {ClassItem, payloadNone},
	Edit:             {ClassItem, payloadNone},
	Update:           {ClassWorld, payloadFields},
	Delete:           {ClassWorld, payloadNone},
	Archive:          {ClassItem, payloadNone},
	ListReady:        {ClassWorld, payloadNone},
	ListOpen:         {ClassWorld, payloadNone},
	ListAll:          {ClassWorld, payloadNone},
	New:              {ClassWorld, payloadNone},
	NewChild:         {ClassWorld, payloadIdent},
	Create:           {ClassWorld, payloadFields},
	Clone:            {ClassWorld, payloadNone},
	Close:            {ClassItem, payloadNone},
	Reopen:           {ClassItem, payloadNone},
	GetAll:           {ClassWorld, payloadNone},
	CheckData:        {ClassWorld, payloadNone},
	BlockBy:          {ClassItem, payloadIdent},
	UnblockBy:        {ClassItem, payloadIdent},
	TestError1:       {ClassEngine, payloadNone},
	TestError2:       {ClassWorld, payloadNone},
}

// Names returns every defined action name, sorted.
func Names() []Name {
	out := make([]Name, 0, len(actions))
	for n := range actions {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Class returns the component responsible for the action.
func (n Name) Class() Class {
	return actions[n].class
}

// Valid reports whether n is a defined action.
func (n Name) Valid() bool {
	_, ok := actions[n]
	return ok
}

// Action is a decoded action with its payload.
type Action struct {
	Name Name

	// Base holds the serialized base fields for Create and Update.
	Base map[string]any
	// Values holds the flat data field values for Create and Update.
	Values map[string]string
	// Ident is the argument of NewChild, BlockBy and UnblockBy.
	Ident string
	// Force is the argument of Push and PushAndQuit.
	Force bool
}

// Class returns the component responsible for the action.
func (a Action) Class() Class {
	return a.Name.Class()
}

func (a Action) String() string {
	switch actions[a.Name].payload {
	case payloadIdent:
		return fmt.Sprintf("%s(%s)", a.Name, a.Ident)
	case payloadForce:
		return fmt.Sprintf("%s{force:%t}", a.Name, a.Force)
	default:
		return string(a.Name)
	}
}

// Request is a decoded command envelope.
type Request struct {
	Type   string
	Ident  string
	Action Action
}

// NeedType returns the type name or ErrMissingField.
func (r *Request) NeedType() (string, error) {
	if r.Type == "" {
		return "", fmt.Errorf("%s needs a type name: %w", r.Action.Name, ErrMissingField)
	}
	return r.Type, nil
}

// NeedIdent returns the ident or ErrMissingField.
func (r *Request) NeedIdent() (string, error) {
	if r.Ident == "" {
		return "", fmt.Errorf("%s needs an ident: %w", r.Action.Name, ErrMissingField)
	}
	return r.Ident, nil
}

type wireRequest struct {
	Type   string              `json:"t,omitempty"`
	Ident  string              `json:"i,omitempty"`
	Action jsoniter.RawMessage `json:"a"`
}

// Decode parses a command envelope.
func Decode(body []byte) (*Request, error) {
	var w wireRequest
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(w.Action) == 0 {
		return nil, fmt.Errorf("%w: no action", ErrMalformed)
	}
	act, err := decodeAction(w.Action)
	if err != nil {
		return nil, err
	}
	return &Request{Type: w.Type, Ident: w.Ident, Action: act}, nil
}

// DecodeString is Decode for a string body.
func DecodeString(body string) (*Request, error) {
	return Decode([]byte(body))
}

func decodeAction(raw jsoniter.RawMessage) (Action, error) {
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		name := Name(bare)
		info, ok := actions[name]
		if !ok {
			return Action{}, fmt.Errorf("%q: %w", bare, ErrUnknownAction)
		}
		if info.payload != payloadNone && info.payload != payloadForce {
			return Action{}, fmt.Errorf("%w: %s needs a payload", ErrMalformed, name)
		}
		return Action{Name: name}, nil
	}

	var tagged map[string]jsoniter.RawMessage
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return Action{}, fmt.Errorf("%w: action is neither a string nor an object", ErrMalformed)
	}
	if len(tagged) != 1 {
		return Action{}, fmt.Errorf("%w: action object has %d keys, want 1", ErrMalformed, len(tagged))
	}
	for key, body := range tagged {
		name := Name(key)
		info, ok := actions[name]
		if !ok {
			return Action{}, fmt.Errorf("%q: %w", key, ErrUnknownAction)
		}
		act := Action{Name: name}
		switch info.payload {
		case payloadNone:
		case payloadIdent:
			if err := json.Unmarshal(body, &act.Ident); err != nil {
				return Action{}, fmt.Errorf("%w: %s payload: %v", ErrMalformed, name, err)
			}
		case payloadForce:
			var f struct {
				Force bool `json:"force"`
			}
			if err := json.Unmarshal(body, &f); err != nil {
				return Action{}, fmt.Errorf("%w: %s payload: %v", ErrMalformed, name, err)
			}
			act.Force = f.Force
		case payloadFields:
			var pair []jsoniter.RawMessage
			if err := json.Unmarshal(body, &pair); err != nil || len(pair) != 2 {
				return Action{}, fmt.Errorf("%w: %s payload must be [base, values]", ErrMalformed, name)
			}
			if err := json.Unmarshal(pair[0], &act.Base); err != nil {
				return Action{}, fmt.Errorf("%w: %s base: %v", ErrMalformed, name, err)
			}
			if err := json.Unmarshal(pair[1], &act.Values); err != nil {
				return Action{}, fmt.Errorf("%w: %s values: %v", ErrMalformed, name, err)
			}
		}
		return act, nil
	}
	panic("unreachable")
}

// Encode renders a request back into envelope form.
func Encode(r *Request) ([]byte, error) {
	w := wireRequest{Type: r.Type, Ident: r.Ident}
	var a any
	switch actions[r.Action.Name].payload {
	case payloadNone:
		a = r.Action.Name
	case payloadIdent:
		a = map[Name]string{r.Action.Name: r.Action.Ident}
	case payloadForce:
		a = map[Name]map[string]bool{r.Action.Name: {"force": r.Action.Force}}
	case payloadFields:
		base := r.Action.Base
		if base == nil {
			base = map[string]any{}
		}
		vals := r.Action.Values
		if vals == nil {
			vals = map[string]string{}
		}
		a = map[Name][]any{r.Action.Name: {base, vals}}
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action: %w", err)
	}
	w.Action = raw
	return json.Marshal(w)
}
