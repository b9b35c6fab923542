package session

// PlaceholderWaiting is shown while not joined and no status is set.
const PlaceholderWaiting = "Waiting..."

// Surface is a video surface keyed by participant id.
type Surface struct {
	Participant ParticipantID `json:"participant"`
	Local       bool          `json:"local"`
}

// Layout tells a rendering layer what to draw for a snapshot.
type Layout struct {
	// Main is the full-screen surface, nil while not joined.
	Main *Surface `json:"main,omitempty"`

	// PictureInPicture is the local preview overlay, nil while not joined.
	PictureInPicture *Surface `json:"picture_in_picture,omitempty"`

	// Placeholder is the text shown instead of video while not joined.
	Placeholder string `json:"placeholder,omitempty"`

	// ShowControls reports whether leave and switch-camera are offered.
	ShowControls bool `json:"show_controls"`

	// ShowForm reports whether the credential fields and join are offered.
	ShowForm bool `json:"show_form"`
}

// Layout derives the screen layout. When joined the primary remote
// participant fills the main surface and the local preview sits in the
// overlay; alone, the local preview fills both.
func (s Snapshot) Layout() Layout {
	if !s.Joined {
		placeholder := s.StatusMessage
		if placeholder == "" {
			placeholder = PlaceholderWaiting
		}
		return Layout{
			Placeholder: placeholder,
			ShowForm:    true,
		}
	}

	local := &Surface{Participant: LocalParticipant, Local: true}
	layout := Layout{
		Main:             local,
		PictureInPicture: &Surface{Participant: LocalParticipant, Local: true},
		ShowControls:     true,
	}
	if uid, ok := s.Remote(); ok {
		layout.Main = &Surface{Participant: uid}
	}
	return layout
}
