package main

import "github.com/jrsteele09/go-patient-auth/users"

func identityEmail(identity *users.Identity) string {
	if identity == nil {
		return ""
	}
	return identity.Email
}

func identityID(identity *users.Identity) string {
	if identity == nil {
		return ""
	}
	return identity.ID
}
