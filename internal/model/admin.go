package model

import "time"

// Admin is a lab administrator allowed to shut devices down, override
// states and read the reservation ledger.
type Admin struct {
    ID           uint64    // admins.id
    Username     string    // admins.username
    PasswordHash string    // admins.password_hash (bcrypt)
    CreatedAt    time.Time // admins.created_at
}

// RoleAdmin is the JWT role claim carried by admin sessions.
const RoleAdmin = "ADMIN"
