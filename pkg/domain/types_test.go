package domain

import "testing"

func TestIsAdmin(t *testing.T) {
	if (User{Role: RoleUser}).IsAdmin() {
		t.Fatal("regular user reported as admin")
	}
	if (User{}).IsAdmin() {
		t.Fatal("zero-value user reported as admin")
	}
	if !(User{Role: RoleAdmin}).IsAdmin() {
		t.Fatal("admin not recognized")
	}
}
