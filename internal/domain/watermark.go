package domain

// Watermarks maps an account to the id of the most recently processed post.
// A missing key means the account has no history yet.
type Watermarks map[string]PostID

func (w Watermarks) Get(account Account) (PostID, bool) {
	id, ok := w[string(account)]
	return id, ok
}

func (w Watermarks) Set(account Account, id PostID) {
	w[string(account)] = id
}

// Clone returns an independent copy.
func (w Watermarks) Clone() Watermarks {
	out := make(Watermarks, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
