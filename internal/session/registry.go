package session

import "time"

// student is a live student connection. Join order is preserved by the
// registry's slice so participant lists are stable across refreshes.
type student struct {
	connID   string
	name     string
	joinedAt time.Time
}

// Registry tracks every live connection: the single teacher authority slot
// and the set of online students. It holds no lock of its own; the
// Coordinator serializes all access, because uniqueness and completion
// invariants span the registry and the active poll together.
type Registry struct {
	teacherConn string
	students    []*student
	byConn      map[string]*student
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{byConn: make(map[string]*student)}
}

// SetTeacher installs connID as the teacher authority, replacing any
// previous holder (last writer wins). Returns the replaced connection ID,
// empty if the slot was free. The previous connection stays open; it just
// loses authority.
func (r *Registry) SetTeacher(connID string) (prev string) {
	prev = r.teacherConn
	if prev == connID {
		prev = ""
	}
	r.teacherConn = connID
	return prev
}

// Teacher returns the current teacher connection ID, empty if none.
func (r *Registry) Teacher() string { return r.teacherConn }

// IsTeacher reports whether connID currently holds teacher authority.
func (r *Registry) IsTeacher(connID string) bool {
	return connID != "" && connID == r.teacherConn
}

// AddStudent registers a student connection under name. The caller must
// have already checked name uniqueness.
func (r *Registry) AddStudent(connID, name string, now time.Time) {
	s := &student{connID: connID, name: name, joinedAt: now}
	r.students = append(r.students, s)
	r.byConn[connID] = s
}

// StudentByConn returns the student on connID, or nil.
func (r *Registry) StudentByConn(connID string) *student {
	return r.byConn[connID]
}

// HasStudentName reports whether any currently connected student uses name.
func (r *Registry) HasStudentName(name string) bool {
	for _, s := range r.students {
		if s.name == name {
			return true
		}
	}
	return false
}

// Remove drops a connection from the registry. If it held teacher
// authority the slot is cleared. Returns whether it was the teacher and
// the removed student, if it was one.
func (r *Registry) Remove(connID string) (wasTeacher bool, removed *student) {
	if r.teacherConn == connID {
		r.teacherConn = ""
		wasTeacher = true
	}
	if s, ok := r.byConn[connID]; ok {
		removed = s
		delete(r.byConn, connID)
		for i, cur := range r.students {
			if cur == s {
				r.students = append(r.students[:i], r.students[i+1:]...)
				break
			}
		}
	}
	return wasTeacher, removed
}

// OnlineStudents lists connected students in join order.
func (r *Registry) OnlineStudents() []Participant {
	out := make([]Participant, 0, len(r.students))
	for _, s := range r.students {
		out = append(out, Participant{ConnectionID: s.connID, Name: s.name, IsOnline: true})
	}
	return out
}

// StudentConns lists student connection IDs in join order.
func (r *Registry) StudentConns() []string {
	out := make([]string, 0, len(r.students))
	for _, s := range r.students {
		out = append(out, s.connID)
	}
	return out
}

// AllConns lists every live connection: students in join order, then the
// teacher if present.
func (r *Registry) AllConns() []string {
	out := r.StudentConns()
	if r.teacherConn != "" {
		out = append(out, r.teacherConn)
	}
	return out
}
