package oauth

import "time"

// Clock overrides for tests in package oauth_test.

func (c *Codes) SetClock(now func() time.Time)    { c.now = now }
func (t *Tokens) SetClock(now func() time.Time)   { t.now = now }
func (s *Sweeper) SetClock(now func() time.Time)  { s.now = now }
func (r *Registry) SetClock(now func() time.Time) { r.now = now }
