package model

import "time"

// User represents an account as stored in the `users` collection. The
// password hash is tagged so it can never be serialised into a response;
// the current refresh token lives in the session store, not here.
//
// Fields:
//
//	ID           – hex ObjectID of the document.
//	Username     – unique, lower-cased login name.
//	Email        – unique, lower-cased email address.
//	FullName     – display name.
//	Avatar       – durable URL returned by the media uploader.
//	CoverImage   – optional durable URL, empty when not provided.
//	PasswordHash – bcrypt hash.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           string    `bson:"-" json:"_id"`
	Username     string    `bson:"username" json:"username"`
	Email        string    `bson:"email" json:"email"`
	FullName     string    `bson:"fullName" json:"fullName"`
	Avatar       string    `bson:"avatar" json:"avatar"`
	CoverImage   string    `bson:"coverImage" json:"coverImage"`
	PasswordHash string    `bson:"password" json:"-"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}
