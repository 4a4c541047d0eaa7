package service

// registry maps each attached connection to the one file it is viewing.
// It is owned by the hub's dispatch goroutine and is never locked.
type registry struct {
	clients map[Subscriber]string
	files   map[string]map[Subscriber]struct{}
}

func newRegistry() *registry {
	return &registry{
		clients: map[Subscriber]string{},
		files:   map[string]map[Subscriber]struct{}{},
	}
}

func (r *registry) attach(sub Subscriber) {
	if _, ok := r.clients[sub]; !ok {
		r.clients[sub] = ""
	}
}

// join moves sub into fileID's group, leaving any previous group. It reports
// whether membership changed.
func (r *registry) join(sub Subscriber, fileID string) bool {
	if current, ok := r.clients[sub]; ok && current == fileID {
		return false
	}
	r.leave(sub)
	r.clients[sub] = fileID
	group, ok := r.files[fileID]
	if !ok {
		group = map[Subscriber]struct{}{}
		r.files[fileID] = group
	}
	group[sub] = struct{}{}
	return true
}

// leave removes sub from its file group and returns the file it left.
func (r *registry) leave(sub Subscriber) string {
	fileID, ok := r.clients[sub]
	if !ok || fileID == "" {
		return ""
	}
	r.clients[sub] = ""
	if group, ok := r.files[fileID]; ok {
		delete(group, sub)
		if len(group) == 0 {
			delete(r.files, fileID)
		}
	}
	return fileID
}

func (r *registry) detach(sub Subscriber) {
	r.leave(sub)
	delete(r.clients, sub)
}

func (r *registry) fileOf(sub Subscriber) (string, bool) {
	fileID, ok := r.clients[sub]
	return fileID, ok && fileID != ""
}

func (r *registry) membersOf(fileID string) []Subscriber {
	group := r.files[fileID]
	members := make([]Subscriber, 0, len(group))
	for sub := range group {
		members = append(members, sub)
	}
	return members
}

func (r *registry) all() []Subscriber {
	members := make([]Subscriber, 0, len(r.clients))
	for sub := range r.clients {
		members = append(members, sub)
	}
	return members
}
