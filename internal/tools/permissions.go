package tools

// Role is the identity a dialogue loop acts as.
type Role string

// Roles.
const (
	RoleCustomerAI  Role = "customer_ai"
	RoleAgentAssist Role = "agent_assist"
)

// Permission is a table-level read or column-level write grant.
type Permission string

// Permissions.
const (
	ReadUsers           Permission = "users:read"
	ReadOrders          Permission = "orders:read"
	ReadTickets         Permission = "tickets:read"
	ReadKnowledge       Permission = "knowledge:read"
	ReadCannedResponses Permission = "canned_responses:read"
	WriteTicketStatus   Permission = "tickets.status:write"
	WriteTicketAssignee Permission = "tickets.assigned_to:write"
	WriteUserEmail      Permission = "users.email:write"
	WriteOrderStatus    Permission = "orders.status:write"
)

var customerAIGrants = []Permission{
	ReadUsers, ReadOrders, ReadTickets, ReadKnowledge,
	WriteTicketStatus, WriteUserEmail,
}

var policy = map[Role]map[Permission]bool{
	RoleCustomerAI:  grants(customerAIGrants...),
	RoleAgentAssist: grants(append(customerAIGrants, WriteTicketAssignee, WriteOrderStatus, ReadCannedResponses)...),
}

func grants(perms ...Permission) map[Permission]bool {
	m := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return m
}

// ParseRole validates a configured role name.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := policy[r]
	return r, ok
}

// Allowed reports whether role holds every permission in perms.
// Unknown roles hold nothing.
func Allowed(role Role, perms ...Permission) bool {
	granted, ok := policy[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if !granted[p] {
			return false
		}
	}
	return true
}
