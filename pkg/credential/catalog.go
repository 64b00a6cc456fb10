package credential

// Instance is a discoverable Spanner instance
type Instance struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Project is a discoverable cloud project with its nested instances
type Project struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Instances []Instance `json:"instances"`
}

// GraphDB is a property graph nested in a database
type GraphDB struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Database is a discoverable database with its nested property graphs
type Database struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	GraphDBs []GraphDB `json:"graphDBs,omitempty"`
}

// Catalog holds the lazily populated resource lists. It is reset whenever the
// owning credential changes identity and repopulated by the cascade loader.
type Catalog struct {
	Projects  []Project  `json:"projects"`
	Databases []Database `json:"databases"`
}

func (c Catalog) clone() Catalog {
	out := Catalog{}
	if c.Projects != nil {
		out.Projects = append([]Project(nil), c.Projects...)
	}
	if c.Databases != nil {
		out.Databases = append([]Database(nil), c.Databases...)
	}
	return out
}
