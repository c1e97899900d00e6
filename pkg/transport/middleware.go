package transport

// Middleware decorates a TurnHandler.
type Middleware func(TurnHandler) TurnHandler

// Chain composes middlewares so that the first one sees a turn first and
// its result last: Chain(a, b)(h) behaves like a(b(h)).
func Chain(middlewares ...Middleware) Middleware {
	return func(h TurnHandler) TurnHandler {
		for i := range middlewares {
			h = middlewares[len(middlewares)-1-i](h)
		}
		return h
	}
}
