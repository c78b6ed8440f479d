package auth

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestJWT(t *testing.T) {
	t.Run("Valid_JWT", func(t *testing.T) {
		userID := "7"
		tokenSecret := "validtokensecret"
		expiration := 15 * time.Second
		tokenString, err := MakeJWT(userID, tokenSecret, expiration)
		if err != nil {
			t.Fatalf("MakeJWT() error = %+v", err)
		}
		gotUserID, err := ValidateJWT(tokenString, tokenSecret)
		if err != nil {
			t.Fatalf("ValidateJWT() error = %+v", err)
		}
		if gotUserID != userID {
			t.Errorf("want = %+v, got = %+v", userID, gotUserID)
		}
	})

	t.Run("Incorrect_secret", func(t *testing.T) {
		tokenString, err := MakeJWT("7", "validtokensecret", 15*time.Second)
		if err != nil {
			t.Fatalf("MakeJWT() error = %+v", err)
		}
		_, err = ValidateJWT(tokenString, "fakesecret")
		if err == nil {
			t.Fatal("ValidateJWT() expected error but got none")
		}
	})

	t.Run("Expired_token", func(t *testing.T) {
		tokenString, err := MakeJWT("7", "validtokensecret", -1*time.Second)
		if err != nil {
			t.Fatalf("MakeJWT() error = %+v", err)
		}
		_, err = ValidateJWT(tokenString, "validtokensecret")
		if err == nil {
			t.Fatal("ValidateJWT() expected error but got none")
		}
	})

	t.Run("Corrupt_token", func(t *testing.T) {
		_, err := ValidateJWT("corrupttoken", "validtokensecret")
		if err == nil {
			t.Fatal("ValidateJWT() expected error but got none")
		}
	})

	t.Run("Empty_user", func(t *testing.T) {
		_, err := MakeJWT("", "validtokensecret", time.Minute)
		if err == nil {
			t.Fatal("MakeJWT() expected error but got none")
		}
	})
}

func TestGetBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc.def", "abc.def", false},
		{"missing", "", "", true},
		{"wrong scheme", "Basic abc", "", true},
		{"empty token", "Bearer   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Authorization", tt.header)
			}
			got, err := GetBearerToken(h)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetBearerToken() error = %+v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("want %q but got %q", tt.want, got)
			}
		})
	}
}

func TestGetUserFromContext(t *testing.T) {
	t.Run("valid_user", func(t *testing.T) {
		ctx := WithUser(context.Background(), "7")
		got, err := GetUserFromContext(ctx)
		if err != nil {
			t.Fatalf("GetUserFromContext(): expected userID but got error = %+v", err)
		}
		if got != "7" {
			t.Errorf("want 7 but got %+v", got)
		}
	})

	t.Run("wrong_type", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), UserIDKey, 7)
		_, err := GetUserFromContext(ctx)
		if err == nil {
			t.Fatal("GetUserFromContext(): expected error but got none")
		}
	})

	t.Run("empty_context_value", func(t *testing.T) {
		ctx := WithUser(context.Background(), "")
		_, err := GetUserFromContext(ctx)
		if err == nil {
			t.Fatal("GetUserFromContext(): expected error but got none")
		}
	})

	t.Run("no_context", func(t *testing.T) {
		_, err := GetUserFromContext(context.Background())
		if err == nil {
			t.Fatal("GetUserFromContext(): expected error but got none")
		}
	})
}
