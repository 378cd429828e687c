package domain

// Upload is one file received from a client, fully buffered.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Empty reports whether the upload carries no bytes.
func (u Upload) Empty() bool {
	return len(u.Data) == 0
}

// Result is the output of a conversion.
type Result struct {
	Data        []byte
	ContentType string
	// Filename is a suggested download name; empty when the response is inline.
	Filename string
}
