// Package models содержит доменные структуры клиента: пользователя, токены сессии,
// планы и подписки. Структуры сериализуются в JSON в формате бэкенда.
package models

// Role роль пользователя в системе
type Role string

const (
	RoleScout         Role = "SCOUT"
	RoleParent        Role = "PARENT"
	RoleUnitLeader    Role = "UNIT_LEADER"
	RoleCouncilAdmin  Role = "COUNCIL_ADMIN"
	RoleNationalAdmin Role = "NATIONAL_ADMIN"
)

// Valid сообщает, известна ли роль.
func (r Role) Valid() bool {
	switch r {
	case RoleScout, RoleParent, RoleUnitLeader, RoleCouncilAdmin, RoleNationalAdmin:
		return true
	}
	return false
}

// UserSubscriptionStatus краткий статус подписки в профиле пользователя
type UserSubscriptionStatus string

const (
	UserSubscriptionActive   UserSubscriptionStatus = "active"
	UserSubscriptionInactive UserSubscriptionStatus = "inactive"
	UserSubscriptionExpired  UserSubscriptionStatus = "expired"
	UserSubscriptionNone     UserSubscriptionStatus = "none"
)

// User представляет пользователя приложения.
// Структура намеренно не содержит токенов: она единственное, что попадает
// в незащищённое хранилище профиля.
type User struct {
	ID                 string                 `json:"id"`
	Email              string                 `json:"email"`
	FirstName          string                 `json:"firstName"`
	LastName           string                 `json:"lastName"`
	Role               Role                   `json:"role"`
	CouncilID          string                 `json:"councilId,omitempty"`
	TroopID            string                 `json:"troopId,omitempty"`
	SubscriptionStatus UserSubscriptionStatus `json:"subscriptionStatus,omitempty"`
	// Поля согласия имеют смысл только для роли SCOUT.
	ConsentStatus   string `json:"consentStatus,omitempty"`
	LocationAllowed *bool  `json:"locationAllowed,omitempty"`
}

// FullName возвращает имя и фамилию через пробел.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// IsUnitLeader сообщает, оформляет ли пользователь подписки от имени скаутов.
func (u User) IsUnitLeader() bool {
	return u.Role == RoleUnitLeader
}

// SignupData данные регистрации через мобильное приложение
type SignupData struct {
	Email              string `json:"email" validate:"required,email"`
	Password           string `json:"password" validate:"required,min=8"`
	FirstName          string `json:"firstName" validate:"required"`
	LastName           string `json:"lastName" validate:"required"`
	Phone              string `json:"phone,omitempty"`
	Role               Role   `json:"role"`
	SubscriptionPlanID string `json:"subscriptionPlanId,omitempty"`
}

// Credentials логин и пароль для входа
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
