package app

type (
	// RegisterUser creates a user. DateOfBirth (YYYY-MM-DD) and DisplayName
	// are optional.
	RegisterUser struct {
		ID          string
		Email       string
		Password    string
		DateOfBirth string
		DisplayName string
	}

	LoginUser struct {
		UserID   string
		Password string
	}

	FindUserAuthDataByEmail struct {
		Email string
	}

	// AuthData is the minimal record needed to route a login.
	AuthData struct {
		ID    string   `json:"id"`
		Roles []string `json:"roles"`
	}
)

const RoleUser = "ROLE_USER"

func (RegisterUser) CommandName() string          { return "identity.register_user" }
func (LoginUser) CommandName() string             { return "identity.login_user" }
func (FindUserAuthDataByEmail) QueryName() string { return "identity.find_user_auth_data_by_email" }
