package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/corbeau/nftmarket/internal/models"
	"github.com/corbeau/nftmarket/internal/store"
)

// AuthService handles account registration and authentication. Every
// account is assigned a fresh ledger address at registration; tokens
// carry that address so handlers know who the caller is on the ledger.
type AuthService struct {
	Accounts store.Accounts
	secret   []byte
	tokenTTL time.Duration
}

func NewAuthService(accounts store.Accounts, secret string) *AuthService {
	return &AuthService{
		Accounts: accounts,
		secret:   []byte(secret),
		tokenTTL: 24 * time.Hour,
	}
}

// Register creates a new account with a hashed password and a fresh
// ledger address.
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.Account, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 100 {
		return nil, fmt.Errorf("password too long (max 100 characters)")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	account, err := s.Accounts.CreateAccount(ctx, username, string(hashedPassword), models.NewAddress())
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// Login verifies credentials and generates a JWT.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	account, err := s.Accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"address":  account.Address.String(),
		"username": account.Username,
		"exp":      time.Now().Add(s.tokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// AddressFromToken extracts the caller's ledger address from a JWT.
func (s *AuthService) AddressFromToken(tokenString string) (models.Address, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return models.ZeroAddress, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return models.ZeroAddress, fmt.Errorf("invalid token")
	}
	address, ok := claims["address"].(string)
	if !ok || address == "" {
		return models.ZeroAddress, fmt.Errorf("token has no address claim")
	}
	return models.Address(address), nil
}
