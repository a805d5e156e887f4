package protocol

// Well-known response tags.
const (
	TagAlways  = "always"
	TagContent = "content"
	TagError   = "error"
	TagMessage = "message"
)

// Tag is one named fragment of a response. The presentation layer replaces
// the element with id Name by Value.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Response is the result of executing a command. Tags keep their order.
type Response struct {
	Tags        []Tag             `json:"tags"`
	Shutdown    bool              `json:"shutdown_required"`
	IsError     bool              `json:"is_error,omitempty"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
}

// NewResponse returns an empty response.
func NewResponse() *Response {
	return &Response{}
}

// ErrorResponse wraps an error in a response with an error tag.
func ErrorResponse(err error) *Response {
	r := &Response{IsError: true}
	r.AddTag(TagError, err.Error())
	return r
}

// AddTag appends a tag.
func (r *Response) AddTag(name, value string) *Response {
	r.Tags = append(r.Tags, Tag{Name: name, Value: value})
	return r
}

// ClearTags appends an empty tag for each name, blanking earlier content.
func (r *Response) ClearTags(names ...string) *Response {
	for _, n := range names {
		r.AddTag(n, "")
	}
	return r
}

// Tag returns the value of the last tag with the name.
func (r *Response) Tag(name string) (string, bool) {
	for i := len(r.Tags) - 1; i >= 0; i-- {
		if r.Tags[i].Name == name {
			return r.Tags[i].Value, true
		}
	}
	return "", false
}

// Diagnostic records a machine-readable detail, used by tests and the CLI.
func (r *Response) Diagnostic(key, value string) *Response {
	if r.Diagnostics == nil {
		r.Diagnostics = make(map[string]string)
	}
	r.Diagnostics[key] = value
	return r
}

// Merge appends other's tags and diagnostics. Flags are or-ed.
func (r *Response) Merge(other *Response) *Response {
	if other == nil {
		return r
	}
	r.Tags = append(r.Tags, other.Tags...)
	for k, v := range other.Diagnostics {
		r.Diagnostic(k, v)
	}
	r.Shutdown = r.Shutdown || other.Shutdown
	r.IsError = r.IsError || other.IsError
	return r
}

// JSON encodes the response.
func (r *Response) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResponse parses an encoded response.
func DecodeResponse(data []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
