package coalescer

// Package coalescer merges concurrent single-key fetches into one aggregate fetch.
//
// Every call to Request made before the current window closes joins the same
// batch. When the window closes the resolver runs once with the distinct keys
// (in first-seen order) and each caller receives the value for its own key.
//
// Example:
//
//	users := coalescer.New(coalescer.Config{Name: "users", Logger: logger},
//	    func(ctx context.Context, ids []string) (coalescer.Lookup[string, User], error) {
//	        rows, err := db.UsersByID(ctx, ids)
//	        if err != nil {
//	            return nil, err
//	        }
//	        return coalescer.MapLookup[string, User](rows), nil
//	    })
//
//	a := users.Request("a")
//	b := users.Request("b")
//	user, found, err := a.Wait(ctx)
