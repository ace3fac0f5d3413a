package filter

import (
	"log"
)

// Subject is a client whose nickname gets checked.
type Subject struct {
	Name     string
	Identity string
	Address  string
	Admin    bool
	// Seen is true when the host already has a record of the identity.
	Seen bool
}

// Listener is notified of what the gate does. Methods are called
// synchronously from the checking goroutine.
type Listener interface {
	Checking(subject Subject)
	Blacklisted(subject Subject, verdict Verdict, action Action)
	Updated(list List, entry string, count int)
}

// Gate runs the admin bypass, the engine and the decision for subjects.
type Gate struct {
	engine    *Engine
	listeners []Listener
}

func NewGate(engine *Engine, listeners ...Listener) *Gate {
	return &Gate{
		engine:    engine,
		listeners: listeners,
	}
}

func (g *Gate) Engine() *Engine {
	return g.engine
}

// Check evaluates a connecting subject. Admins skip evaluation entirely when
// ignore-admins is on, so no counter moves for them.
func (g *Gate) Check(subject Subject) (Verdict, Action) {
	for _, l := range g.listeners {
		l.Checking(subject)
	}
	settings := g.engine.Settings()
	if subject.Admin && settings.IgnoreAdmins.Get() {
		return Verdict{Name: Normalize(subject.Name)}, Action{Kind: None}
	}
	return g.evaluate(subject)
}

func (g *Gate) evaluate(subject Subject) (Verdict, Action) {
	settings := g.engine.Settings()
	verdict := g.engine.Evaluate(subject.Name)
	if !verdict.Matched {
		return verdict, Action{Kind: None}
	}
	for _, l := range g.listeners {
		l.Updated(verdict.List, verdict.Entry, verdict.Count)
	}
	action := Decide(verdict, settings.Mode.Get(), settings.Message.Get(), subject.Seen)
	log.Printf("filter: %s player %q [%s, %s] for a blacklisted nickname (%s entry %q)", action.Kind, subject.Name, subject.Address, subject.Identity, verdict.List, verdict.Entry)
	for _, l := range g.listeners {
		l.Blacklisted(subject, verdict, action)
	}
	return verdict, action
}

// Enforcement is a subject together with the action decided for it.
type Enforcement struct {
	Subject Subject
	Verdict Verdict
	Action  Action
}

// Sweep re-checks subjects that are already connected, typically after a list
// gained an entry. It returns only the subjects that have to be acted upon.
func (g *Gate) Sweep(subjects []Subject) []Enforcement {
	var result []Enforcement
	ignoreAdmins := g.engine.Settings().IgnoreAdmins.Get()
	for _, subject := range subjects {
		if ignoreAdmins && subject.Admin {
			continue
		}
		for _, l := range g.listeners {
			l.Checking(subject)
		}
		verdict, action := g.evaluate(subject)
		if action.Kind != None {
			result = append(result, Enforcement{Subject: subject, Verdict: verdict, Action: action})
		}
	}
	return result
}
