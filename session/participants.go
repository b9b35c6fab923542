package session

// participantSet tracks remote participants in join order. The primary
// participant is the most recently joined one still present.
//
// In single-slot mode it holds at most one id: add overwrites and remove
// clears regardless of which id is removed.
type participantSet struct {
	single bool
	ids    []ParticipantID
}

func newParticipantSet(single bool) *participantSet {
	return &participantSet{single: single}
}

// add records uid as the newest participant. Re-adding a known id moves it
// to the end.
func (p *participantSet) add(uid ParticipantID) {
	if p.single {
		p.ids = append(p.ids[:0], uid)
		return
	}
	p.drop(uid)
	p.ids = append(p.ids, uid)
}

// remove forgets uid and reports whether the set changed.
func (p *participantSet) remove(uid ParticipantID) bool {
	if p.single {
		if len(p.ids) == 0 {
			return false
		}
		p.ids = p.ids[:0]
		return true
	}
	return p.drop(uid)
}

func (p *participantSet) drop(uid ParticipantID) bool {
	for i, id := range p.ids {
		if id == uid {
			p.ids = append(p.ids[:i], p.ids[i+1:]...)
			return true
		}
	}
	return false
}

// clear forgets every participant and reports whether the set changed.
func (p *participantSet) clear() bool {
	if len(p.ids) == 0 {
		return false
	}
	p.ids = p.ids[:0]
	return true
}

func (p *participantSet) primary() (ParticipantID, bool) {
	if len(p.ids) == 0 {
		return 0, false
	}
	return p.ids[len(p.ids)-1], true
}

func (p *participantSet) list() []ParticipantID {
	out := make([]ParticipantID, len(p.ids))
	copy(out, p.ids)
	return out
}

func (p *participantSet) len() int {
	return len(p.ids)
}
