package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/kith/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.User{}, &models.Profile{}, &models.APIKey{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestAccounts_RegisterAndLogin(t *testing.T) {
	db := setupTestDB(t)
	secret := []byte("test-secret")
	accounts := NewAccounts(db, secret)
	ctx := context.Background()

	session, err := accounts.Register(ctx, "  Ada@Example.com ", "correct horse", "Ada")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if session.User.Email != "ada@example.com" {
		t.Fatalf("email = %q, want normalized", session.User.Email)
	}
	if session.User.Password == "correct horse" {
		t.Fatalf("password stored in plaintext")
	}

	var profile models.Profile
	if err := db.First(&profile, "user_id = ?", session.User.ID).Error; err != nil {
		t.Fatalf("profile not created: %v", err)
	}
	if profile.Name != "Ada" {
		t.Fatalf("profile name = %q, want Ada", profile.Name)
	}

	login, err := accounts.Login(ctx, "ADA@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := Parse(secret, login.Token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != session.User.ID || !claims.HasRole(string(models.RoleUser)) {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestAccounts_RegisterErrors(t *testing.T) {
	db := setupTestDB(t)
	accounts := NewAccounts(db, []byte("s"))
	ctx := context.Background()

	if _, err := accounts.Register(ctx, "bob@example.com", "long enough", "Bob"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"duplicate", "BOB@example.com", "long enough", ErrEmailTaken},
		{"short password", "carol@example.com", "short", ErrWeakPassword},
		{"bad email", "carol", "long enough", ErrInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := accounts.Register(ctx, tt.email, tt.password, "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAccounts_LoginRejectsBadCredentials(t *testing.T) {
	db := setupTestDB(t)
	accounts := NewAccounts(db, []byte("s"))
	ctx := context.Background()

	if _, err := accounts.Register(ctx, "dan@example.com", "long enough", "Dan"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := accounts.Login(ctx, "dan@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, err := accounts.Login(ctx, "nobody@example.com", "long enough"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v", err)
	}
}

func TestAPIKeys_CreateAuthenticateRevoke(t *testing.T) {
	db := setupTestDB(t)
	user := models.User{ID: "11111111-1111-1111-1111-111111111111", Email: "key@example.com", Role: models.RoleAdmin}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	keys := NewAPIKeys(db)
	ctx := context.Background()

	plaintext, key, err := keys.Create(ctx, user.ID, "cli", time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if key.KeyPrefix != plaintext[:len(APIKeyPrefix)+8] || key.Status != models.APIKeyActive {
		t.Fatalf("key = %+v", key)
	}

	claims, err := keys.Authenticate(ctx, plaintext)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if claims.UserID != user.ID || !claims.HasRole("admin") {
		t.Fatalf("claims = %+v", claims)
	}

	var stored models.APIKey
	if err := db.First(&stored, "id = ?", key.ID).Error; err != nil {
		t.Fatalf("load key: %v", err)
	}
	if stored.LastUsedAt == nil {
		t.Fatal("last_used_at not recorded")
	}
	if stored.KeyHash == plaintext {
		t.Fatal("key stored in plaintext")
	}

	if _, err := keys.Authenticate(ctx, "gr_"+plaintext[len(APIKeyPrefix):]); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Fatalf("foreign prefix err = %v", err)
	}

	if err := keys.Revoke(ctx, "someone-else", key.ID); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Fatalf("revoke by non-owner err = %v", err)
	}
	if err := keys.Revoke(ctx, user.ID, key.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := keys.Authenticate(ctx, plaintext); !errors.Is(err, ErrAPIKeyRevoked) {
		t.Fatalf("revoked err = %v", err)
	}

	listed, err := keys.List(ctx, user.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 1 || listed[0].Status != models.APIKeyRevoked {
		t.Fatalf("listed = %+v, want one revoked key", listed)
	}

	if err := keys.Delete(ctx, user.ID, key.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := keys.Delete(ctx, user.ID, key.ID); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Fatalf("second Delete err = %v", err)
	}
}

func TestAPIKeys_Expired(t *testing.T) {
	db := setupTestDB(t)
	user := models.User{ID: "33333333-3333-3333-3333-333333333333", Email: "old@example.com", Role: models.RoleUser}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	keys := NewAPIKeys(db)
	ctx := context.Background()

	plaintext, _, err := keys.Create(ctx, user.ID, "short", time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	keys.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := keys.Authenticate(ctx, plaintext); !errors.Is(err, ErrAPIKeyExpired) {
		t.Fatalf("err = %v, want %v", err, ErrAPIKeyExpired)
	}
}

func TestRequireUser_AcceptsAPIKey(t *testing.T) {
	db := setupTestDB(t)
	user := models.User{ID: "22222222-2222-2222-2222-222222222222", Email: "mw@example.com", Role: models.RoleUser}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	plaintext, _, err := NewAPIKeys(db).Create(context.Background(), user.ID, "mw", time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var gotUser string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		gotUser = claims.UserID
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
	req.Header.Set("X-API-Key", plaintext)
	rr := httptest.NewRecorder()
	RequireUser(db, []byte("s"))(next).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || gotUser != user.ID {
		t.Fatalf("code = %d user = %q", rr.Code, gotUser)
	}

	// A bad key is final even when a valid bearer token is also present
	session, err := Issue([]byte("s"), Claims{UserID: user.ID}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
	req.Header.Set("X-API-Key", APIKeyPrefix+"0000")
	req.Header.Set("Authorization", "Bearer "+session)
	rr = httptest.NewRecorder()
	RequireUser(db, []byte("s"))(next).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rr.Code)
	}
}
