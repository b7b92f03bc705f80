package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"qubix-server/entities"
	"qubix-server/qubic"
	"qubix-server/repositories"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	identityAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	seedAlphabet      = "abcdefghijklmnopqrstuvwxyz"
	identityLength    = 60
	seedLength        = 55
)

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Generate(userID, email, role string) (string, error)
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Role     string
}

type AuthResult struct {
	User   *entities.User
	Token  string
	Wallet *entities.Wallet // only set on registration
}

type AuthUseCase struct {
	users          repositories.UserRepository
	tokens         TokenIssuer
	initialBalance float64
	bcryptCost     int
	log            *slog.Logger
}

func NewAuthUseCase(users repositories.UserRepository, tokens TokenIssuer, initialBalance float64, log *slog.Logger) *AuthUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &AuthUseCase{
		users:          users,
		tokens:         tokens,
		initialBalance: initialBalance,
		bcryptCost:     bcrypt.DefaultCost,
		log:            log,
	}
}

// NewWallet generates a Qubic identity and its seed.
func NewWallet() (*entities.Wallet, error) {
	identity, err := qubic.RandomLetters(identityLength, identityAlphabet)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	seed, err := qubic.RandomLetters(seedLength, seedAlphabet)
	if err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	return &entities.Wallet{Identity: identity, Seed: seed}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterEmail creates an account with a fresh wallet and signs the user in.
func (uc *AuthUseCase) RegisterEmail(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, entities.Invalid("Email and password required")
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" {
		return nil, entities.Invalid("Invalid email address")
	}
	if len(in.Password) < minPasswordLength {
		return nil, entities.Invalid(fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}
	role := strings.ToUpper(strings.TrimSpace(in.Role))
	if role == "" {
		role = entities.RoleConsumer
	}
	if !entities.ValidRole(role) {
		return nil, entities.Invalid("Invalid account type")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = local
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), uc.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	wallet, err := NewWallet()
	if err != nil {
		return nil, err
	}

	user := &entities.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		QubicAddress: wallet.Identity,
		Role:         role,
		Balance:      uc.initialBalance,
	}
	if err := uc.users.Create(ctx, user); err != nil {
		if errors.Is(err, entities.ErrAlreadyExists) {
			return nil, fmt.Errorf("email %s: %w", email, entities.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("register user: %w", err)
	}

	token, err := uc.tokens.Generate(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	uc.log.Info("user registered", "user_id", user.ID, "role", user.Role)
	return &AuthResult{User: user, Token: token, Wallet: wallet}, nil
}

// Login checks the password and issues a token.
func (uc *AuthUseCase) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, entities.Invalid("Email and password required")
	}
	user, err := uc.users.GetByEmail(ctx, email)
	if errors.Is(err, entities.ErrNotFound) {
		return nil, entities.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, entities.ErrInvalidCredentials
	}
	token, err := uc.tokens.Generate(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Token: token}, nil
}

// Me returns the account behind a token.
func (uc *AuthUseCase) Me(ctx context.Context, userID string) (*entities.User, error) {
	if userID == "" {
		return nil, entities.Invalid("user id is required")
	}
	return uc.users.GetByID(ctx, userID)
}
