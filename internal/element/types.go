package element

// Node is a single geographic point from the source document.
type Node struct {
	ID  int64   `json:"id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Way is an ordered sequence of node references with tags.
type Way struct {
	ID    int64             `json:"id"`
	Nodes []int64           `json:"nodes"`
	Tags  map[string]string `json:"tags"`
}

// Element is one decoded top-level object from the source stream. Exactly one
// of Node or Way is set.
type Element struct {
	Node *Node
	Way  *Way
}

// envelope is the raw shape of a source element before classification by the
// "type" discriminator.
type envelope struct {
	Type  string            `json:"type"`
	ID    int64             `json:"id"`
	Lat   float64           `json:"lat"`
	Lon   float64           `json:"lon"`
	Nodes []int64           `json:"nodes"`
	Tags  map[string]string `json:"tags"`
}
