package domain

// InputSource tags where a resolved input originally came from.
type InputSource string

const (
	SourcePath   InputSource = "path"
	SourceURL    InputSource = "url"
	SourceInline InputSource = "inline"
)

// InputRef is a polymorphic reference to one logical input. Exactly one of
// the three forms must be set.
type InputRef struct {
	Path   string
	URL    string
	Base64 string
}

// Forms counts how many reference forms are populated.
func (r InputRef) Forms() int {
	n := 0
	if r.Path != "" {
		n++
	}
	if r.URL != "" {
		n++
	}
	if r.Base64 != "" {
		n++
	}
	return n
}

// Source reports which form is populated. Only meaningful after Validate.
func (r InputRef) Source() InputSource {
	switch {
	case r.Path != "":
		return SourcePath
	case r.URL != "":
		return SourceURL
	default:
		return SourceInline
	}
}

// Validate enforces the one-of contract for the named logical input. It is
// called before any I/O so that ambiguous requests never reach the resolver.
func (r InputRef) Validate(name string) error {
	switch r.Forms() {
	case 0:
		return NewError(CategoryValidation, name+" input required ("+name+"_path, "+name+"_url, or "+name+"_base64)")
	case 1:
		return nil
	default:
		return NewError(CategoryValidation, "multiple "+name+" input forms supplied; provide exactly one")
	}
}

// ResolvedInput is a local file ready for the inference engine, plus its
// provenance. The file is owned by the request that created it.
type ResolvedInput struct {
	Path   string
	Source InputSource
}
