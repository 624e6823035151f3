package model

// APIToken grants access to the mutating endpoints.
type APIToken struct {
	Token string `yaml:"token"`
	Label string `yaml:"label"`
}
