package dto

// Validatable is the constraint of every request type accepted by the server
// wrappers. Validate runs after path, query and body decoding.
type Validatable interface {
	Validate() error
}

// requirePath takes name/value pairs and reports the first empty value as a
// missing field.
func requirePath(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return MissingField(pairs[i])
		}
	}
	return nil
}
