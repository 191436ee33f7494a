package httpapi

// Config defines HTTP transfer surface settings.
type Config struct {
	Addr     string
	BaseURL  string
	BasePath string
}
