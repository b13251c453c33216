package neptunevk

import "sync/atomic"

// Cookie stride leaves the low four bits clear for future tagging.
// Cookie 0 is reserved as "no identity".
const cookieStride = 16

type cookieService struct {
	counter uint64
}

func (c *cookieService) NewCookie() uint64 {
	return atomic.AddUint64(&c.counter, cookieStride)
}

var cookies cookieService

//Stamps a unique identity onto a newly created resource. Two resources
//are the same object iff their cookies are equal.
func NewCookie() uint64 {
	return cookies.NewCookie()
}
