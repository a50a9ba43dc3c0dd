package service

import "testing"

// TestHealthPath проверяет выбор пути проверки HTTP-зависимости.
func TestHealthPath(t *testing.T) {
	tests := []struct {
		name, input, expected string
	}{
		{"путь JWKS", "https://idp.example.org/realms/ms/protocol/openid-connect/certs", "/realms/ms/protocol/openid-connect/certs"},
		{"без пути", "http://agent:8080", "/health"},
		{"некорректный URL", "://", "/health"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := healthPath(tt.input); got != tt.expected {
				t.Errorf("healthPath(%q) = %q, ожидалось %q", tt.input, got, tt.expected)
			}
		})
	}
}
