package models

// Tokens пара токенов сессии
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Complete сообщает, что оба токена присутствуют.
func (t Tokens) Complete() bool {
	return t.AccessToken != "" && t.RefreshToken != ""
}

// AuthResult ответ бэкенда на вход и регистрацию
type AuthResult struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Tokens возвращает токены из ответа.
func (a AuthResult) Tokens() Tokens {
	return Tokens{AccessToken: a.AccessToken, RefreshToken: a.RefreshToken}
}
