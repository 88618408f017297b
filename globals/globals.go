package globals

var (
	// JwtSecret is set from config at startup.
	JwtSecret = []byte("")
)

// Context keys
type ContextKey string

const RoleKey ContextKey = "role"
const UserIDKey ContextKey = "userId"
