package models

// Flash is a one-shot status message shown on the next rendered page.
type Flash struct {
	Category string
	Message  string
}

type PageData struct {
	Title      string
	Flashes    []Flash
	Warning    string
	Notes      []Note
	Note       *Note
	Query      string
	Form       map[string]string
	CSRFtoken  string
	IsLoggedIn bool
	Username   string
}
