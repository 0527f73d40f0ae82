// Package handler defines the handler contract shared by the router,
// response and middleware packages.
//
// A HandlerFunc does not write to the connection. It returns a Response that
// the router renders, so middleware can observe or replace the result and a
// single ErrorHandler formats every failure:
//
//	func getDocument(ctx *router.Context) handler.Response {
//		doc, err := store.Get(ctx, ctx.Param("id"))
//		if err != nil {
//			return response.Error(err)
//		}
//		return response.JSON(doc)
//	}
//
// Context is generic so applications can carry their own request state;
// router.Context is the default implementation.
package handler
