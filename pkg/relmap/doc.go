// Package relmap maps relations between document tables.
//
// A Table wraps a physical table with a schema, declared indexes and named
// relations to other tables. Relations come in four kinds (HasOne, BelongsTo,
// HasMany and BelongsToMany) and are built from Links, which name a field on
// each side of the relation. Every read and write is returned as an
// rql.Term; nothing touches the store until the term runs in a session.
//
//	env := relmap.NewEnvironment()
//	user, _ := env.CreateTable(relmap.TableOptions{
//		Name:   "user",
//		Schema: func() schema.Schema { return schema.Base().With(schema.Schema{"name": schema.String()}) },
//	})
//	post, _ := env.CreateTable(relmap.TableOptions{
//		Name: "post",
//		Schema: func() schema.Schema {
//			return schema.Base().With(schema.Schema{"userId": user.ForeignKey(relmap.ForeignKeyOptions{})})
//		},
//		Relations: func() relmap.Relations {
//			return relmap.Relations{"user": relmap.BelongsTo(post.LinkTo(user, "userId"))}
//		},
//	})
//
//	q, _ := post.GetRelated("p1", "user", nil)
//	author, err := rql.RunDocument(ctx, sess, q)
//
// Schema and relation declarations are thunks so tables may refer to each
// other before all of them exist. They are evaluated once, on first use.
package relmap
