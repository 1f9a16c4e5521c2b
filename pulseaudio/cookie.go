package pulseaudio

import (
	"fmt"
	"os"
	"path/filepath"
)

const cookieLength = 256

// authCookie loads the local authentication cookie. Lookup order follows
// the server's own: $PULSE_COOKIE, then ~/.config/pulse/cookie, then the
// legacy ~/.pulse-cookie. A missing cookie is not fatal; same-user
// connections over the native socket are accepted without one.
func authCookie() ([]byte, error) {
	var candidates []string
	if path := os.Getenv("PULSE_COOKIE"); path != "" {
		candidates = append(candidates, path)
	}
	if config, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(config, "pulse", "cookie"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".pulse-cookie"))
	}

	for _, path := range candidates {
		cookie, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if len(cookie) != cookieLength {
			return nil, fmt.Errorf("pulseaudio: cookie %s has length %d, want %d",
				path, len(cookie), cookieLength)
		}
		return cookie, nil
	}
	return nil, fmt.Errorf("pulseaudio: no auth cookie found")
}
